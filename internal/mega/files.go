package mega

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// placeholderHandle is the client-side handle of a node being created.
const placeholderHandle = "xxxxxxxx"

// FileInfo is the public metadata of a linked file.
type FileInfo struct {
	Name string
	Size int64
	// Key is the link key as found in the link text.
	Key string
}

type downloadRequest struct {
	act
	G string `json:"g,omitempty"`
	P string `json:"p,omitempty"`
	N string `json:"n,omitempty"`
}

type downloadResponse struct {
	URL  string `json:"g"`
	Size int64  `json:"s"`
	Attr string `json:"at"`
}

type uploadRequest struct {
	act
	Size int64 `json:"s"`
}

type uploadResponse struct {
	URL string `json:"p"`
}

type newNodeRequest struct {
	act
	Target string    `json:"t"`
	Nodes  []newNode `json:"n"`
	ReqID  string    `json:"i"`
	CR     []any     `json:"cr,omitempty"`
}

type newNode struct {
	Handle string   `json:"h"`
	Type   NodeType `json:"t"`
	Attr   string   `json:"a"`
	Key    string   `json:"k"`
}

// UploadCompletion describes a finished upload to be turned into a node.
type UploadCompletion struct {
	// Parent is the folder receiving the file.
	Parent string
	Name   string
	// CompletionHandle is returned by the storage server after the last chunk.
	CompletionHandle string
	// UploadKey is the key from GenUploadKey; its first four words encrypt
	// the attributes.
	UploadKey []uint32
	// FileKey is the final 32-byte node key.
	FileKey []byte
	// ShareRoot and ShareKey are set when Parent lives in a shared folder.
	ShareRoot string
	ShareKey  []byte
}

// FileDownloadURL resolves a file link to a temporary download URL.
func (c *Client) FileDownloadURL(ctx context.Context, link string) (string, error) {
	c.logger.Info("resolving download URL", slog.String("link", redactLink(link)))

	resp, _, err := c.fileRequest(ctx, link, true)
	if err != nil {
		return "", err
	}

	if resp.URL == "" {
		return "", fmt.Errorf("%w: download response has no URL", ErrCorruptResponse)
	}

	return resp.URL, nil
}

// FileMetadata returns the name and size of a linked file. The name is
// decrypted with the key embedded in the link; failure to do so is reported
// as a CodeKey protocol error.
func (c *Client) FileMetadata(ctx context.Context, link string) (*FileInfo, error) {
	c.logger.Info("fetching file metadata", slog.String("link", redactLink(link)))

	resp, l, err := c.fileRequest(ctx, link, false)
	if err != nil {
		return nil, err
	}

	key, err := megacrypto.DecodeLinkKeyString(l.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %w", ErrInvalidLink, err)
	}

	var attrs Attributes

	blob, err := megacrypto.Base64Decode(resp.Attr)
	if err == nil {
		err = megacrypto.DecryptAttributes(blob, key, &attrs)
	}

	if err != nil {
		c.logger.Debug("file attributes undecryptable", slog.String("error", err.Error()))

		return nil, &ProtocolError{Code: CodeKey, Action: "g"}
	}

	return &FileInfo{Name: CleanName(attrs.Name), Size: resp.Size, Key: l.Key}, nil
}

// fileRequest issues the "g" action for a file link. Folder-scoped links
// address the node with "n" and the enclosing folder in the query.
func (c *Client) fileRequest(ctx context.Context, link string, withURL bool) (*downloadResponse, *Link, error) {
	l, err := ParseLink(link)
	if err != nil {
		return nil, nil, err
	}

	if l.Type == LinkFolder {
		return nil, nil, fmt.Errorf("%w: expected a file link, got a folder link", ErrInvalidLink)
	}

	req := downloadRequest{act: act{A: "g"}}
	if withURL {
		req.G = "1"
	}

	var query url.Values
	if l.Type == LinkFolderFile {
		req.N = l.Handle
		query = url.Values{"n": {l.Folder}}
	} else {
		req.P = l.Handle
	}

	raw, err := c.request(ctx, req, query)
	if err != nil {
		return nil, nil, fmt.Errorf("mega: file %s: %w", l.Handle, err)
	}

	var resp downloadResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return nil, nil, err
	}

	return &resp, l, nil
}

// InitUpload announces an upload of size bytes and returns the URL chunks
// are posted to.
func (c *Client) InitUpload(ctx context.Context, size int64) (string, error) {
	c.logger.Info("initiating upload", slog.Int64("size", size))

	req := uploadRequest{act: act{A: "u"}, Size: size}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return "", fmt.Errorf("mega: initiating upload: %w", err)
	}

	var resp uploadResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return "", err
	}

	if resp.URL == "" {
		return "", fmt.Errorf("%w: upload response has no URL", ErrCorruptResponse)
	}

	return resp.URL, nil
}

// InitUploadFile is InitUpload for the file at path.
func (c *Client) InitUploadFile(ctx context.Context, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("mega: stat %s: %w", path, err)
	}

	if fi.IsDir() {
		return "", fmt.Errorf("mega: %s is a directory", path)
	}

	return c.InitUpload(ctx, fi.Size())
}

// FinishUpload creates the file node for a completed upload and returns its
// handle.
func (c *Client) FinishUpload(ctx context.Context, u *UploadCompletion) (string, error) {
	c.logger.Info("finishing upload",
		slog.String("parent", u.Parent),
		slog.String("name", u.Name),
	)

	master, err := c.masterKey()
	if err != nil {
		return "", err
	}

	if len(u.UploadKey) < 4 {
		return "", fmt.Errorf("%w: upload key has %d words", ErrCrypto, len(u.UploadKey))
	}

	attr, err := encryptName(u.Name, megacrypto.WordsToBytes(u.UploadKey[:4]))
	if err != nil {
		return "", err
	}

	wrapped, err := megacrypto.EncryptKey(u.FileKey, master)
	if err != nil {
		return "", fmt.Errorf("%w: wrapping file key: %w", ErrCrypto, err)
	}

	req := newNodeRequest{
		act:    act{A: "p"},
		Target: u.Parent,
		Nodes: []newNode{{
			Handle: u.CompletionHandle,
			Type:   NodeFile,
			Attr:   attr,
			Key:    megacrypto.Base64Encode(wrapped),
		}},
		ReqID: c.requestID(),
	}

	if u.ShareKey != nil {
		cr, err := shareCrossRef(u.ShareRoot, u.CompletionHandle, u.FileKey, u.ShareKey)
		if err != nil {
			return "", err
		}

		req.CR = cr
	}

	return c.createNode(ctx, req)
}

// CreateDir creates folder name under parent with the given folder key and
// returns the new handle.
func (c *Client) CreateDir(ctx context.Context, name, parent string, nodeKey []byte) (string, error) {
	return c.createDir(ctx, name, parent, nodeKey, "", nil)
}

// CreateDirInsideSharedDir is CreateDir for a parent inside the shared
// folder shareRoot; the folder key is also wrapped under shareKey.
func (c *Client) CreateDirInsideSharedDir(ctx context.Context, name, parent string, nodeKey []byte, shareRoot string, shareKey []byte) (string, error) {
	return c.createDir(ctx, name, parent, nodeKey, shareRoot, shareKey)
}

func (c *Client) createDir(ctx context.Context, name, parent string, nodeKey []byte, shareRoot string, shareKey []byte) (string, error) {
	c.logger.Info("creating folder",
		slog.String("parent", parent),
		slog.String("name", name),
		slog.Bool("shared", shareKey != nil),
	)

	master, err := c.masterKey()
	if err != nil {
		return "", err
	}

	attr, err := encryptName(name, nodeKey)
	if err != nil {
		return "", err
	}

	wrapped, err := megacrypto.EncryptKey(nodeKey, master)
	if err != nil {
		return "", fmt.Errorf("%w: wrapping folder key: %w", ErrCrypto, err)
	}

	req := newNodeRequest{
		act:    act{A: "p"},
		Target: parent,
		Nodes: []newNode{{
			Handle: placeholderHandle,
			Type:   NodeFolder,
			Attr:   attr,
			Key:    megacrypto.Base64Encode(wrapped),
		}},
		ReqID: c.requestID(),
	}

	if shareKey != nil {
		cr, err := shareCrossRef(shareRoot, placeholderHandle, nodeKey, shareKey)
		if err != nil {
			return "", err
		}

		req.CR = cr
	}

	return c.createNode(ctx, req)
}

// createNode sends a "p" action and returns the handle of the first node
// the server reports.
func (c *Client) createNode(ctx context.Context, req newNodeRequest) (string, error) {
	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return "", fmt.Errorf("mega: creating node in %s: %w", req.Target, err)
	}

	var resp filesResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Nodes) == 0 || resp.Nodes[0].Handle == "" {
		return "", fmt.Errorf("%w: node creation returned no node", ErrCorruptResponse)
	}

	return resp.Nodes[0].Handle, nil
}

// shareCrossRef builds the (root, node, key) triple that re-keys a node for
// a shared folder.
func shareCrossRef(root, handle string, nodeKey, shareKey []byte) ([]any, error) {
	wrapped, err := megacrypto.EncryptKey(nodeKey, shareKey)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapping key for share: %w", ErrCrypto, err)
	}

	return []any{
		[]string{root},
		[]string{handle},
		[]any{0, 0, megacrypto.Base64Encode(wrapped)},
	}, nil
}

// encryptName returns the base64 attribute blob for a node name.
func encryptName(name string, key []byte) (string, error) {
	blob, err := megacrypto.EncryptAttributes(Attributes{Name: name}, key)
	if err != nil {
		return "", fmt.Errorf("%w: encrypting attributes: %w", ErrCrypto, err)
	}

	return megacrypto.Base64Encode(blob), nil
}

// redactLink drops the key material from a link for logging.
func redactLink(link string) string {
	l, err := ParseLink(link)
	if err != nil {
		return "(invalid link)"
	}

	return l.Handle
}
