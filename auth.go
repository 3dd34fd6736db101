package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/mega-go/internal/config"
	"github.com/tonimelisma/mega-go/internal/mega"
	"github.com/tonimelisma/mega-go/internal/sessionfile"
)

// errNotLoggedIn is returned by commands that need a saved session.
var errNotLoggedIn = errors.New("not logged in, run 'mega-go login' first")

// Overridable for tests.
var (
	sessionPath = config.DefaultSessionPath
	stdin       io.Reader = os.Stdin
	stdout      io.Writer = os.Stdout
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and save a session for later commands",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the logged-in account and its root folders",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Display storage usage",
		Args:  cobra.NoArgs,
		RunE:  runQuota,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	cfg := currentConfig()
	in := bufio.NewReader(stdin)

	email := cfg.Account.Email
	if email == "" {
		var err error
		if email, err = promptLine(in, "Email: "); err != nil {
			return err
		}
	}

	password, err := readPassword(in, "Password: ")
	if err != nil {
		return err
	}

	client := newMegaClient(cfg, logger)

	if err := client.Login(cmd.Context(), email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	creds, err := client.Credentials()
	if err != nil {
		return err
	}

	path := sessionPath()
	if err := sessionfile.Save(path, sessionfile.New(creds.Email, creds.PasswordKey, creds.UserHash)); err != nil {
		return err
	}

	logger.Info("login successful", slog.String("email", creds.Email), slog.String("session", path))
	statusf("Logged in as %s.\n", creds.Email)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	removed, err := sessionfile.Remove(sessionPath())
	if err != nil {
		return err
	}

	if !removed {
		statusf("No saved session.\n")
		return nil
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email  string `json:"email"`
	Root   string `json:"root"`
	Inbox  string `json:"inbox"`
	Trash  string `json:"trash"`
	HasSID bool   `json:"has_sid"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	client, _, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	out := whoamiOutput{
		Email:  client.Email(),
		Root:   client.RootID(),
		Inbox:  client.InboxID(),
		Trash:  client.TrashID(),
		HasSID: client.SessionID() != "",
	}

	if flagJSON {
		return printJSON(stdout, out)
	}

	fmt.Fprintf(stdout, "Email: %s\n", out.Email)
	fmt.Fprintf(stdout, "Root:  %s\n", out.Root)
	fmt.Fprintf(stdout, "Inbox: %s\n", out.Inbox)
	fmt.Fprintf(stdout, "Trash: %s\n", out.Trash)

	return nil
}

type quotaOutput struct {
	Used  *int64 `json:"used"`
	Total *int64 `json:"total"`
}

func runQuota(cmd *cobra.Command, _ []string) error {
	client, _, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	q, err := client.Quota(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(stdout, quotaOutput{Used: q.Used, Total: q.Total})
	}

	fmt.Fprintf(stdout, "Used:  %s\n", formatOptionalSize(q.Used))
	fmt.Fprintf(stdout, "Total: %s\n", formatOptionalSize(q.Total))

	return nil
}

// loggedInClient restores the saved session with a fast login.
func loggedInClient(ctx context.Context) (*mega.Client, *slog.Logger, error) {
	logger := buildLogger()

	sf, err := sessionfile.Load(sessionPath())
	if err != nil {
		return nil, nil, err
	}

	if sf == nil {
		return nil, nil, errNotLoggedIn
	}

	key, err := sf.Key()
	if err != nil {
		return nil, nil, err
	}

	client := newMegaClient(currentConfig(), logger)

	if err := client.FastLogin(ctx, sf.Email, key, sf.UserHash); err != nil {
		return nil, nil, fmt.Errorf("restoring session: %w", err)
	}

	return client, logger, nil
}

func promptLine(in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no input given")
	}

	return line, nil
}

// readPassword reads without echo from a terminal, or a plain line when
// stdin is piped.
func readPassword(in *bufio.Reader, prompt string) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return promptLine(in, prompt)
	}

	fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(int(f.Fd())) //nolint:gosec // fd fits in int
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if len(pw) == 0 {
		return "", errors.New("no password given")
	}

	return string(pw), nil
}
