package resource

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
)

// Cache defaults for connection listings
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 2 * time.Minute
)

// Lister is the remote surface the directory reads from
type Lister interface {
	ListConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]Resource, error)
	ListKnowledgeBaseChildren(ctx context.Context, knowledgeBaseID, path string) ([]Resource, error)
}

// Directory lists children of connection and knowledge-base nodes.
//
// Connection listings are cached for a short TTL since the source tree is not
// touched by this program. Knowledge-base listings are never cached: they are
// re-read after every mutation to confirm membership.
type Directory struct {
	lister Lister
	cache  *expirable.LRU[string, []Resource]
}

// NewDirectory creates a Directory. A cacheSize below zero disables caching,
// zero uses DefaultCacheSize.
func NewDirectory(lister Lister, cacheSize int, ttl time.Duration) *Directory {
	d := &Directory{lister: lister}
	if cacheSize < 0 {
		return d
	}
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	d.cache = expirable.NewLRU[string, []Resource](cacheSize, nil, ttl)
	return d
}

// ConnectionChildren lists the children of resourceID in a connection. An
// empty resourceID lists the connection root.
func (d *Directory) ConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]Resource, error) {
	key := connectionID + "\x00" + resourceID
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			return clone(cached), nil
		}
	}

	children, err := d.lister.ListConnectionChildren(ctx, connectionID, resourceID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].ConnectionID == "" {
			children[i].ConnectionID = connectionID
		}
		children[i].Path = NormalizePath(children[i].Path)
	}

	if d.cache != nil {
		d.cache.Add(key, clone(children))
	}
	return children, nil
}

// KnowledgeBaseChildren lists the children of path inside a knowledge base.
// A path that has not been materialized remotely yields an empty listing.
func (d *Directory) KnowledgeBaseChildren(ctx context.Context, knowledgeBaseID, path string) ([]Resource, error) {
	path = NormalizePath(path)
	children, err := d.lister.ListKnowledgeBaseChildren(ctx, knowledgeBaseID, path)
	if err != nil {
		if errors.Is(err, ErrPathNotFound) {
			loggy.Debug("knowledge base path not materialized", "knowledge_base_id", knowledgeBaseID, "path", path)
			return []Resource{}, nil
		}
		return nil, err
	}
	for i := range children {
		children[i].Path = NormalizePath(children[i].Path)
	}
	if children == nil {
		children = []Resource{}
	}
	return children, nil
}

// Invalidate drops every cached connection listing
func (d *Directory) Invalidate() {
	if d.cache != nil {
		d.cache.Purge()
	}
}

func clone(rs []Resource) []Resource {
	out := make([]Resource, len(rs))
	copy(out, rs)
	return out
}
