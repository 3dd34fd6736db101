package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/mega"
	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <folder-link>",
		Short: "List the contents of a public folder link",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file-link>",
		Short: "Display the name and size behind a file link",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent-handle> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2), //nolint:mnd // parent and name
		RunE:  runMkdir,
	}
}

func newShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <folder-handle> <folder-key>",
		Short: "Share a folder publicly and print its link",
		Args:  cobra.ExactArgs(2), //nolint:mnd // handle and key
		RunE:  runShare,
	}
}

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <file-handle> <file-key>",
		Short: "Export a file and print its public link",
		Args:  cobra.ExactArgs(2), //nolint:mnd // handle and key
		RunE:  runLink,
	}
}

// nodeJSON is the JSON schema for one `ls --json` entry.
type nodeJSON struct {
	Handle string `json:"handle"`
	Parent string `json:"parent"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Link   string `json:"link,omitempty"`
}

func runLs(cmd *cobra.Command, args []string) error {
	l, err := mega.ParseLink(args[0])
	if err != nil {
		return err
	}

	if l.Type != mega.LinkFolder {
		return fmt.Errorf("%w: ls needs a folder link", mega.ErrInvalidLink)
	}

	logger := buildLogger()
	client := newMegaClient(currentConfig(), logger)

	nodes, err := client.FolderNodes(cmd.Context(), l.Handle, l.Key)
	if err != nil {
		return err
	}

	list := make([]*mega.Node, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, n)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Type != list[j].Type {
			return list[i].Type > list[j].Type
		}

		return list[i].Name < list[j].Name
	})

	if flagJSON {
		out := make([]nodeJSON, 0, len(list))
		for _, n := range list {
			out = append(out, toNodeJSON(n, l.Handle))
		}

		return printJSON(stdout, out)
	}

	rows := make([][]string, 0, len(list))
	for _, n := range list {
		size := formatSize(n.Size)
		if n.Type != mega.NodeFile {
			size = "-"
		}

		rows = append(rows, []string{n.Handle, n.Type.String(), size, n.Name})
	}

	printTable(stdout, []string{"HANDLE", "TYPE", "SIZE", "NAME"}, rows)

	return nil
}

func toNodeJSON(n *mega.Node, folder string) nodeJSON {
	out := nodeJSON{
		Handle: n.Handle,
		Parent: n.Parent,
		Type:   n.Type.String(),
		Name:   n.Name,
		Size:   n.Size,
	}

	if n.Type == mega.NodeFile {
		out.Link = n.Link(folder)
	}

	return out
}

type infoOutput struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	client := newMegaClient(currentConfig(), buildLogger())

	info, err := client.FileMetadata(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(stdout, infoOutput{Name: info.Name, Size: info.Size})
	}

	fmt.Fprintf(stdout, "Name: %s\n", info.Name)
	fmt.Fprintf(stdout, "Size: %s (%d bytes)\n", formatSize(info.Size), info.Size)

	return nil
}

type mkdirOutput struct {
	Handle string `json:"handle"`
	Key    string `json:"key"`
}

func runMkdir(cmd *cobra.Command, args []string) error {
	client, _, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	key := megacrypto.GenFolderKey()

	handle, err := client.CreateDir(cmd.Context(), args[1], args[0], key)
	if err != nil {
		return err
	}

	out := mkdirOutput{Handle: handle, Key: megacrypto.Base64Encode(key)}

	if flagJSON {
		return printJSON(stdout, out)
	}

	fmt.Fprintf(stdout, "%s %s\n", out.Handle, out.Key)

	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	nodeKey, err := decodeNodeKey(args[1])
	if err != nil {
		return err
	}

	client, _, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	shareKey := megacrypto.GenShareKey()

	if err := client.ShareFolder(cmd.Context(), args[0], nodeKey, shareKey); err != nil {
		return err
	}

	link, err := client.PublicFolderLink(cmd.Context(), args[0], shareKey)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, link)

	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	nodeKey, err := decodeNodeKey(args[1])
	if err != nil {
		return err
	}

	client, _, err := loggedInClient(cmd.Context())
	if err != nil {
		return err
	}

	link, err := client.PublicFileLink(cmd.Context(), args[0], nodeKey)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, link)

	return nil
}

func decodeNodeKey(s string) ([]byte, error) {
	key, err := megacrypto.Base64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("node key: %w", err)
	}

	if len(key) != megacrypto.KeySize && len(key) != 2*megacrypto.KeySize {
		return nil, fmt.Errorf("node key: %d bytes, want %d or %d", len(key), megacrypto.KeySize, 2*megacrypto.KeySize)
	}

	return key, nil
}
