// Package kbtest provides an in-memory knowledge-base API for tests.
package kbtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
)

// Operation names recorded in Calls and passed to BeforeCall
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpGet      = "get"
	OpOrg      = "org"
	OpSync     = "sync"
	OpListKB   = "list_kb"
	OpListConn = "list_conn"
)

// Call is one recorded API call
type Call struct {
	Op              string
	KnowledgeBaseID string
	Path            string
	IDs             []string
}

type knowledgeBase struct {
	connectionID string
	sources      map[string]struct{}
	deleted      map[string]struct{}
	name         string
}

// Remote fakes the connection tree and the knowledge bases built from it.
//
// A node is visible in a knowledge base when it, an ancestor or a descendant
// is a source, and neither it nor an ancestor has been deleted. Submitting a
// source set un-deletes the subtrees of sources that were not in the
// previous set.
type Remote struct {
	mu     sync.Mutex
	nodes  map[string]resource.Resource // by path
	byID   map[string]string            // id -> path
	kbs    map[string]*knowledgeBase
	nextKB int
	orgID  string
	calls  []Call
	fail   map[string][]error

	// BeforeCall runs before every operation, outside the lock. Tests use it
	// to block a call and force interleavings.
	BeforeCall func(op string)
}

// NewRemote creates an empty remote
func NewRemote() *Remote {
	return &Remote{
		nodes: map[string]resource.Resource{},
		byID:  map[string]string{},
		kbs:   map[string]*knowledgeBase{},
		orgID: "org-1",
		fail:  map[string][]error{},
	}
}

// AddFile adds a file node
func (r *Remote) AddFile(id, path string) resource.Resource {
	return r.add(id, path, resource.KindFile)
}

// AddDir adds a directory node
func (r *Remote) AddDir(id, path string) resource.Resource {
	return r.add(id, path, resource.KindDirectory)
}

func (r *Remote) add(id, path string, kind resource.Kind) resource.Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := resource.Resource{ID: id, Path: resource.NormalizePath(path), Kind: kind, ConnectionID: "conn-1"}
	r.nodes[res.Path] = res
	r.byID[id] = res.Path
	return res
}

// Resource returns the node with id
func (r *Remote) Resource(id string) resource.Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[r.byID[id]]
}

// FailNext makes the next call of op return err
func (r *Remote) FailNext(op string, err error) {
	r.mu.Lock()
	r.fail[op] = append(r.fail[op], err)
	r.mu.Unlock()
}

// Calls returns every recorded call
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls of op
func (r *Remote) CallsOf(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls
func (r *Remote) ResetCalls() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// KnowledgeBaseIDs returns the ids of every created knowledge base
func (r *Remote) KnowledgeBaseIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.kbs))
	for id := range r.kbs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sources returns the declared source ids of a knowledge base
func (r *Remote) Sources(kbID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[kbID]
	if !ok {
		return nil
	}
	return sortedKeys(kb.sources)
}

// ConfirmedMembers returns the source ids currently visible in a knowledge base
func (r *Remote) ConfirmedMembers(kbID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[kbID]
	if !ok {
		return nil
	}
	var out []string
	for id := range kb.sources {
		if path, ok := r.byID[id]; ok && r.visible(kb, path) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// begin records a call and returns an injected failure, if any
func (r *Remote) begin(call Call) error {
	if hook := r.BeforeCall; hook != nil {
		hook(call.Op)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if errs := r.fail[call.Op]; len(errs) > 0 {
		r.fail[call.Op] = errs[1:]
		return errs[0]
	}
	return nil
}

// CreateKnowledgeBase implements knowledgebase.API
func (r *Remote) CreateKnowledgeBase(ctx context.Context, req stackai.CreateKnowledgeBaseRequest) (string, error) {
	if err := r.begin(Call{Op: OpCreate, IDs: append([]string(nil), req.ConnectionSourceIDs...)}); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextKB++
	id := fmt.Sprintf("kb-%d", r.nextKB)
	kb := &knowledgeBase{
		connectionID: req.ConnectionID,
		sources:      map[string]struct{}{},
		deleted:      map[string]struct{}{},
		name:         req.Name,
	}
	r.kbs[id] = kb
	r.submit(kb, req.ConnectionSourceIDs)
	return id, nil
}

// UpdateKnowledgeBase implements knowledgebase.API
func (r *Remote) UpdateKnowledgeBase(ctx context.Context, kbID, connectionID string, ids []string) error {
	if err := r.begin(Call{Op: OpUpdate, KnowledgeBaseID: kbID, IDs: append([]string(nil), ids...)}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[kbID]
	if !ok {
		return &stackai.APIError{StatusCode: http.StatusNotFound, Message: "knowledge base not found"}
	}
	r.submit(kb, ids)
	return nil
}

func (r *Remote) submit(kb *knowledgeBase, ids []string) {
	next := map[string]struct{}{}
	for _, id := range ids {
		next[id] = struct{}{}
		if _, was := kb.sources[id]; was {
			continue
		}
		path, ok := r.byID[id]
		if !ok {
			continue
		}
		for deleted := range kb.deleted {
			if deleted == path || strings.HasPrefix(deleted, path+"/") || isAncestor(deleted, path) {
				delete(kb.deleted, deleted)
			}
		}
	}
	kb.sources = next
}

// DeleteKnowledgeBaseResource implements knowledgebase.API
func (r *Remote) DeleteKnowledgeBaseResource(ctx context.Context, kbID, path string) error {
	path = resource.NormalizePath(path)
	if err := r.begin(Call{Op: OpDelete, KnowledgeBaseID: kbID, Path: path}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if kb, ok := r.kbs[kbID]; ok {
		kb.deleted[path] = struct{}{}
	}
	return nil
}

// GetKnowledgeBase implements knowledgebase.API
func (r *Remote) GetKnowledgeBase(ctx context.Context, kbID string) (*stackai.KnowledgeBase, error) {
	if err := r.begin(Call{Op: OpGet, KnowledgeBaseID: kbID}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[kbID]
	if !ok {
		return nil, &stackai.APIError{StatusCode: http.StatusNotFound, Message: "knowledge base not found"}
	}
	return &stackai.KnowledgeBase{
		KnowledgeBaseID:     kbID,
		ConnectionID:        kb.connectionID,
		ConnectionSourceIDs: sortedKeys(kb.sources),
		Name:                kb.name,
	}, nil
}

// CurrentOrganization implements knowledgebase.SyncAPI
func (r *Remote) CurrentOrganization(ctx context.Context) (string, error) {
	if err := r.begin(Call{Op: OpOrg}); err != nil {
		return "", err
	}
	return r.orgID, nil
}

// TriggerSync implements knowledgebase.SyncAPI
func (r *Remote) TriggerSync(ctx context.Context, kbID, orgID string) error {
	return r.begin(Call{Op: OpSync, KnowledgeBaseID: kbID})
}

// ListConnectionChildren implements resource.Lister
func (r *Remote) ListConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]resource.Resource, error) {
	if err := r.begin(Call{Op: OpListConn, Path: resourceID}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	parent := "/"
	if resourceID != "" {
		p, ok := r.byID[resourceID]
		if !ok {
			return nil, &stackai.APIError{StatusCode: http.StatusNotFound, Message: "resource not found"}
		}
		parent = p
	}
	return r.children(parent, nil), nil
}

// ListKnowledgeBaseChildren implements resource.Lister
func (r *Remote) ListKnowledgeBaseChildren(ctx context.Context, kbID, path string) ([]resource.Resource, error) {
	path = resource.NormalizePath(path)
	if err := r.begin(Call{Op: OpListKB, KnowledgeBaseID: kbID, Path: path}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kb, ok := r.kbs[kbID]
	if !ok {
		return nil, &stackai.APIError{StatusCode: http.StatusNotFound, Message: "knowledge base not found"}
	}
	if path != "/" && !r.visible(kb, path) {
		return nil, &stackai.APIError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("Path error: %s does not exist", path),
		}
	}
	return r.children(path, kb), nil
}

// children lists direct children of parent, filtered by visibility in kb
// when kb is set
func (r *Remote) children(parent string, kb *knowledgeBase) []resource.Resource {
	var out []resource.Resource
	for path, node := range r.nodes {
		if parentOf(path) != parent {
			continue
		}
		if kb != nil && !r.visible(kb, path) {
			continue
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (r *Remote) visible(kb *knowledgeBase, path string) bool {
	for deleted := range kb.deleted {
		if deleted == path || isAncestor(deleted, path) {
			return false
		}
	}
	for id := range kb.sources {
		src, ok := r.byID[id]
		if !ok {
			continue
		}
		if src == path || isAncestor(src, path) || isAncestor(path, src) {
			return true
		}
	}
	return false
}

func isAncestor(ancestor, path string) bool {
	if ancestor == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, ancestor+"/")
}

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
