// Package resource models nodes of a connected storage provider and lists
// them from either the source connection or a knowledge base.
package resource

import (
	"errors"
	"path"
	"strings"
	"time"
)

// ErrPathNotFound is matched by listing errors for knowledge-base paths that
// have not been materialized remotely yet.
var ErrPathNotFound = errors.New("path does not exist")

// Kind is the inode type of a resource
type Kind string

const (
	// KindFile is a leaf resource
	KindFile Kind = "file"
	// KindDirectory is a folder whose children can be listed
	KindDirectory Kind = "directory"
)

// Resource identifies one node in the remote tree
type Resource struct {
	ID           string
	Path         string
	Kind         Kind
	ConnectionID string

	// Optional provider metadata, display only
	Size         int64
	ModifiedAt   time.Time
	MimeType     string
	RemoteStatus string
}

// IsDirectory reports whether r is a folder
func (r Resource) IsDirectory() bool {
	return r.Kind == KindDirectory
}

// Name returns the last path element
func (r Resource) Name() string {
	p := NormalizePath(r.Path)
	if p == "/" {
		return p
	}
	return path.Base(p)
}

// NormalizePath returns p rooted at "/" with no trailing slash
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// IDs returns the ids of rs in order
func IDs(rs []Resource) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
