package mega

import (
	"fmt"
	"regexp"
)

// publicLinkBase prefixes composed share links.
const publicLinkBase = "https://mega.nz/"

// LinkType distinguishes what a share link points at.
type LinkType int

// Link types.
const (
	LinkFile       LinkType = iota // #!handle!key
	LinkFolder                     // #F!handle!key
	LinkFolderFile                 // #N!handle!key###n=folder
)

// Link is a parsed share link.
type Link struct {
	Type   LinkType
	Handle string
	Key    string
	// Folder is the enclosing shared folder for LinkFolderFile links.
	Folder string
}

var (
	legacyLinkRe  = regexp.MustCompile(`#(F|N)?!([^!]+)!([^!#]+)`)
	folderScopeRe = regexp.MustCompile(`###n=(.+)$`)
	modernLinkRe  = regexp.MustCompile(`/(file|folder)/([^#/?]+)#([^/?#!]+)`)
)

// ParseLink extracts handle and key material from a share link. Both the
// fragment forms (#!h!k, #F!h!k, #N!h!k###n=f) and the path forms
// (/file/h#k, /folder/h#k) are accepted.
func ParseLink(s string) (*Link, error) {
	if m := legacyLinkRe.FindStringSubmatch(s); m != nil {
		l := &Link{Type: LinkFile, Handle: m[2], Key: m[3]}

		switch m[1] {
		case "F":
			l.Type = LinkFolder
		case "N":
			fm := folderScopeRe.FindStringSubmatch(s)
			if fm == nil {
				return nil, fmt.Errorf("%w: %q has no enclosing folder", ErrInvalidLink, s)
			}

			l.Type = LinkFolderFile
			l.Folder = fm[1]
		}

		return l, nil
	}

	if m := modernLinkRe.FindStringSubmatch(s); m != nil {
		l := &Link{Type: LinkFile, Handle: m[2], Key: m[3]}
		if m[1] == "folder" {
			l.Type = LinkFolder
		}

		return l, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidLink, s)
}

// String composes the canonical fragment form of the link.
func (l *Link) String() string {
	switch l.Type {
	case LinkFolder:
		return publicLinkBase + "#F!" + l.Handle + "!" + l.Key
	case LinkFolderFile:
		return publicLinkBase + "#N!" + l.Handle + "!" + l.Key + "###n=" + l.Folder
	default:
		return publicLinkBase + "#!" + l.Handle + "!" + l.Key
	}
}
