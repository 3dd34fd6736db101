package mega

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// NodeType is the "t" tag of a node.
type NodeType int

// Node types.
const (
	NodeFile   NodeType = 0
	NodeFolder NodeType = 1
	NodeRoot   NodeType = 2
	NodeInbox  NodeType = 3
	NodeTrash  NodeType = 4
)

func (t NodeType) String() string {
	switch t {
	case NodeFile:
		return "file"
	case NodeFolder:
		return "folder"
	case NodeRoot:
		return "root"
	case NodeInbox:
		return "inbox"
	case NodeTrash:
		return "trash"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Node is a decrypted entry of a shared folder listing.
type Node struct {
	Handle string
	Parent string
	Type   NodeType
	Size   int64
	Name   string
	// Key is the unwrapped node key, URL-safe base64.
	Key string
}

// Link returns a download link for a file inside the shared folder folderID.
func (n *Node) Link(folderID string) string {
	l := Link{Type: LinkFolderFile, Handle: n.Handle, Key: n.Key, Folder: folderID}

	return l.String()
}

// Attributes is the decrypted attribute blob of a node.
type Attributes struct {
	Name string `json:"n"`
}

type fetchNodesRequest struct {
	act
	C int `json:"c"`
}

type folderNodesRequest struct {
	act
	C string `json:"c"`
	R string `json:"r"`
}

// nodeResponse mirrors one entry of the "f" array exactly.
// Unexported: callers get Node via toNode().
type nodeResponse struct {
	Handle string   `json:"h"`
	Parent string   `json:"p"`
	Owner  string   `json:"u"`
	Type   NodeType `json:"t"`
	Attr   string   `json:"a"`
	Key    string   `json:"k"`
	Size   int64    `json:"s"`
}

type filesResponse struct {
	Nodes []nodeResponse `json:"f"`
}

// FetchNodes lists the account's node tree and records the root, inbox and
// trash handles. A listing without them is logged, not an error.
func (c *Client) FetchNodes(ctx context.Context) error {
	if _, err := c.masterKey(); err != nil {
		return err
	}

	req := fetchNodesRequest{act: act{A: "f"}, C: 1}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("mega: fetching nodes: %w", err)
	}

	var resp filesResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range resp.Nodes {
		n := &resp.Nodes[i]

		switch n.Type {
		case NodeRoot:
			c.session.rootID = n.Handle
		case NodeInbox:
			c.session.inboxID = n.Handle
		case NodeTrash:
			c.session.trashID = n.Handle
		case NodeFile, NodeFolder:
		}
	}

	if c.session.rootID == "" {
		c.logger.Warn("node listing has no root node", slog.Int("nodes", len(resp.Nodes)))
	}

	c.logger.Debug("fetched node tree",
		slog.Int("nodes", len(resp.Nodes)),
		slog.String("root", c.session.rootID),
	)

	return nil
}

// FolderNodes lists the contents of the shared folder folderID. folderKey
// is the base64 key from the folder link. Nodes whose key or attributes
// cannot be decrypted are skipped.
func (c *Client) FolderNodes(ctx context.Context, folderID, folderKey string) (map[string]*Node, error) {
	c.logger.Info("listing folder", slog.String("folder", folderID))

	fk, err := megacrypto.DecodeLinkKeyString(folderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: folder key: %w", ErrInvalidLink, err)
	}

	req := folderNodesRequest{act: act{A: "f"}, C: "1", R: "1"}

	raw, err := c.request(ctx, req, url.Values{"n": {folderID}})
	if err != nil {
		return nil, fmt.Errorf("mega: listing folder %s: %w", folderID, err)
	}

	var resp filesResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(resp.Nodes))

	for i := range resp.Nodes {
		n, err := resp.Nodes[i].toNode(fk)
		if err != nil {
			c.logger.Debug("skipping undecryptable node",
				slog.String("handle", resp.Nodes[i].Handle),
				slog.String("error", err.Error()),
			)

			continue
		}

		nodes[n.Handle] = n
	}

	return nodes, nil
}

// toNode unwraps the node key against folderKey and decrypts the name.
func (r *nodeResponse) toNode(folderKey []byte) (*Node, error) {
	parts := strings.Split(r.Key, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: node key %q has no owner prefix", ErrCorruptResponse, r.Key)
	}

	wrapped, err := megacrypto.Base64Decode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: node key: %w", ErrCorruptResponse, err)
	}

	nodeKey, err := megacrypto.DecryptKey(wrapped, folderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: node key: %w", ErrCrypto, err)
	}

	attrBlob, err := megacrypto.Base64Decode(r.Attr)
	if err != nil {
		return nil, fmt.Errorf("%w: attributes: %w", ErrCorruptResponse, err)
	}

	var attrs Attributes
	if err := megacrypto.DecryptAttributes(attrBlob, megacrypto.DecodeLinkKey(nodeKey), &attrs); err != nil {
		return nil, fmt.Errorf("%w: attributes: %w", ErrCrypto, err)
	}

	return &Node{
		Handle: r.Handle,
		Parent: r.Parent,
		Type:   r.Type,
		Size:   r.Size,
		Name:   CleanName(attrs.Name),
		Key:    megacrypto.Base64Encode(nodeKey),
	}, nil
}
