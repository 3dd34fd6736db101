package mega

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/mega-go/internal/megacrypto"
)

// exportUser grants public (link) access in a share action.
const exportUser = "EXP"

type publicLinkRequest struct {
	act
	Node  string `json:"n"`
	ReqID string `json:"i,omitempty"`
}

type shareRequest struct {
	act
	Node       string       `json:"n"`
	Grants     []shareGrant `json:"s"`
	ReqID      string       `json:"i"`
	OwnerKey   string       `json:"ok"`
	HandleAuth string       `json:"ha"`
	CR         []any        `json:"cr"`
}

type shareGrant struct {
	User   string `json:"u"`
	Rights int    `json:"r"`
}

// PublicFileLink exports node and returns its share link with nodeKey
// embedded.
func (c *Client) PublicFileLink(ctx context.Context, node string, nodeKey []byte) (string, error) {
	c.logger.Info("creating public file link", slog.String("node", node))

	handle, err := c.exportNode(ctx, publicLinkRequest{act: act{A: "l"}, Node: node})
	if err != nil {
		return "", err
	}

	l := Link{Type: LinkFile, Handle: handle, Key: megacrypto.Base64Encode(nodeKey)}

	return l.String(), nil
}

// PublicFolderLink exports a shared folder and returns its link with
// folderKey embedded.
func (c *Client) PublicFolderLink(ctx context.Context, node string, folderKey []byte) (string, error) {
	c.logger.Info("creating public folder link", slog.String("node", node))

	handle, err := c.exportNode(ctx, publicLinkRequest{act: act{A: "l"}, Node: node, ReqID: c.requestID()})
	if err != nil {
		return "", err
	}

	l := Link{Type: LinkFolder, Handle: handle, Key: megacrypto.Base64Encode(folderKey)}

	return l.String(), nil
}

func (c *Client) exportNode(ctx context.Context, req publicLinkRequest) (string, error) {
	if _, err := c.masterKey(); err != nil {
		return "", err
	}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return "", fmt.Errorf("mega: exporting %s: %w", req.Node, err)
	}

	var handle string
	if err := decode(req.name(), raw, &handle); err != nil {
		return "", err
	}

	if handle == "" {
		return "", fmt.Errorf("%w: export returned an empty handle", ErrCorruptResponse)
	}

	return handle, nil
}

// ShareFolder grants public access to folder node. shareKey is wrapped under
// the master key and nodeKey under shareKey.
func (c *Client) ShareFolder(ctx context.Context, node string, nodeKey, shareKey []byte) error {
	c.logger.Info("sharing folder", slog.String("node", node))

	master, err := c.masterKey()
	if err != nil {
		return err
	}

	ok, err := megacrypto.EncryptKey(shareKey, master)
	if err != nil {
		return fmt.Errorf("%w: wrapping share key: %w", ErrCrypto, err)
	}

	ha, err := megacrypto.HandleAuth(node, master)
	if err != nil {
		return fmt.Errorf("%w: handle auth: %w", ErrCrypto, err)
	}

	cr, err := shareCrossRef(node, node, nodeKey, shareKey)
	if err != nil {
		return err
	}

	req := shareRequest{
		act:        act{A: "s2"},
		Node:       node,
		Grants:     []shareGrant{{User: exportUser, Rights: 0}},
		ReqID:      c.requestID(),
		OwnerKey:   megacrypto.Base64Encode(ok),
		HandleAuth: megacrypto.Base64Encode(ha),
		CR:         cr,
	}

	if _, err := c.request(ctx, req, nil); err != nil {
		return fmt.Errorf("mega: sharing %s: %w", node, err)
	}

	return nil
}
