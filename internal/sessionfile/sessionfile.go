// Package sessionfile stores what a fast login needs (email, derived
// password key, user hash) so the password is asked for only once.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// File is the on-disk format. PasswordKey is URL-safe base64.
type File struct {
	Email       string            `json:"email"`
	PasswordKey string            `json:"password_key"`
	UserHash    string            `json:"user_hash"`
	SavedAt     time.Time         `json:"saved_at"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// New builds a File from derived credentials.
func New(email string, passwordKey []byte, userHash string) *File {
	return &File{
		Email:       email,
		PasswordKey: megacrypto.Base64Encode(passwordKey),
		UserHash:    userHash,
		SavedAt:     time.Now().UTC(),
	}
}

// Key decodes the stored password key.
func (f *File) Key() ([]byte, error) {
	key, err := megacrypto.Base64Decode(f.PasswordKey)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: password key: %w", err)
	}

	if len(key) != megacrypto.KeySize {
		return nil, fmt.Errorf("sessionfile: password key has %d bytes, want %d", len(key), megacrypto.KeySize)
	}

	return key, nil
}

// Load reads a session file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sessionfile: decoding %s: %w", path, err)
	}

	if f.Email == "" || f.PasswordKey == "" || f.UserHash == "" {
		return nil, fmt.Errorf("sessionfile: %s is incomplete (login again)", path)
	}

	return &f, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions.
func Save(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("sessionfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the session file. A missing file is not an error; the
// return reports whether a file was removed.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("sessionfile: removing %s: %w", path, err)
	}

	return true, nil
}
