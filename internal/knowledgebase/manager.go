// Package knowledgebase manages the remote member set of a knowledge base and
// triggers its sync.
//
// The API only accepts full-set replacement, so every membership change is a
// set computation followed by a resubmission of the whole set.
package knowledgebase

import (
	"context"

	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
)

// DefaultName is used for new knowledge bases when none is configured
const DefaultName = "My Hybrid KB"

// API is the remote surface the manager mutates
type API interface {
	CreateKnowledgeBase(ctx context.Context, req stackai.CreateKnowledgeBaseRequest) (string, error)
	UpdateKnowledgeBase(ctx context.Context, knowledgeBaseID, connectionID string, sourceIDs []string) error
	DeleteKnowledgeBaseResource(ctx context.Context, knowledgeBaseID, path string) error
	GetKnowledgeBase(ctx context.Context, knowledgeBaseID string) (*stackai.KnowledgeBase, error)
}

// Lister lists knowledge-base folders. Unmaterialized paths list as empty.
type Lister interface {
	KnowledgeBaseChildren(ctx context.Context, knowledgeBaseID, path string) ([]resource.Resource, error)
}

// Manager owns the create/merge/subtract/remove operations
type Manager struct {
	api         API
	lister      Lister
	params      stackai.IndexingParams
	description string
	logger      *loggy.Logger
}

// NewManager creates a Manager. params is passed through unchanged on create.
func NewManager(api API, lister Lister, params stackai.IndexingParams, description string, logger *loggy.Logger) *Manager {
	if logger == nil {
		logger = loggy.GetGlobalLogger()
	}
	return &Manager{
		api:         api,
		lister:      lister,
		params:      params,
		description: description,
		logger:      logger,
	}
}

// EnsureCreated creates a knowledge base whose source set is initialIDs and
// returns its id. On error nothing may be assumed about the remote state.
func (m *Manager) EnsureCreated(ctx context.Context, connectionID string, initialIDs []string, name string) (string, error) {
	if name == "" {
		name = DefaultName
	}
	ids := Union(initialIDs, nil)

	id, err := m.api.CreateKnowledgeBase(ctx, stackai.CreateKnowledgeBaseRequest{
		ConnectionID:        connectionID,
		ConnectionSourceIDs: ids,
		Name:                name,
		Description:         m.description,
		IndexingParams:      m.params,
	})
	if err != nil {
		return "", &RemoteError{Op: OpCreate, Err: err}
	}

	loggy.FromContext(ctx).Info("Created knowledge base", "knowledge_base_id", id, "sources", len(ids))
	return id, nil
}

// MergeInclude submits current ∪ newIDs as the full source set and returns it
func (m *Manager) MergeInclude(ctx context.Context, knowledgeBaseID, connectionID string, current, newIDs []string) ([]string, error) {
	merged := Union(current, newIDs)
	if err := m.api.UpdateKnowledgeBase(ctx, knowledgeBaseID, connectionID, merged); err != nil {
		return nil, &RemoteError{Op: OpUpdate, KnowledgeBaseID: knowledgeBaseID, Err: err}
	}
	loggy.FromContext(ctx).Debug("Merged knowledge base sources",
		"knowledge_base_id", knowledgeBaseID,
		"before", len(current),
		"after", len(merged))
	return merged, nil
}

// ExcludeRecursive removes r from the knowledge base. Directories are torn
// down post-order: every child is removed before its parent. It returns the
// ids of every deleted resource, r included.
func (m *Manager) ExcludeRecursive(ctx context.Context, knowledgeBaseID string, r resource.Resource) ([]string, error) {
	var deleted []string
	if err := m.excludeRecursive(ctx, knowledgeBaseID, r, &deleted); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (m *Manager) excludeRecursive(ctx context.Context, knowledgeBaseID string, r resource.Resource, deleted *[]string) error {
	path := resource.NormalizePath(r.Path)

	if r.IsDirectory() {
		children, err := m.lister.KnowledgeBaseChildren(ctx, knowledgeBaseID, path)
		if err != nil {
			return &RemoteError{Op: OpList, KnowledgeBaseID: knowledgeBaseID, ResourceID: r.ID, Path: path, Err: err}
		}
		for _, child := range children {
			if err := m.excludeRecursive(ctx, knowledgeBaseID, child, deleted); err != nil {
				return err
			}
		}
	}

	if err := m.api.DeleteKnowledgeBaseResource(ctx, knowledgeBaseID, path); err != nil {
		return &RemoteError{Op: OpDelete, KnowledgeBaseID: knowledgeBaseID, ResourceID: r.ID, Path: path, Err: err}
	}
	loggy.FromContext(ctx).Debug("Deleted knowledge base resource", "knowledge_base_id", knowledgeBaseID, "path", path)
	if r.ID != "" {
		*deleted = append(*deleted, r.ID)
	}
	return nil
}

// SubtractAndResubmit submits current \ removed as the full source set and
// returns it. An empty remainder is not submitted. The bool reports whether
// a submission happened.
func (m *Manager) SubtractAndResubmit(ctx context.Context, knowledgeBaseID, connectionID string, current, removed []string) ([]string, bool, error) {
	remainder := Subtract(current, removed)
	if len(remainder) == 0 {
		loggy.FromContext(ctx).Debug("No sources left, skipping resubmit", "knowledge_base_id", knowledgeBaseID)
		return remainder, false, nil
	}
	if err := m.api.UpdateKnowledgeBase(ctx, knowledgeBaseID, connectionID, remainder); err != nil {
		return nil, false, &RemoteError{Op: OpUpdate, KnowledgeBaseID: knowledgeBaseID, Err: err}
	}
	return remainder, true, nil
}

// ConfirmMembers lists the knowledge base from its root and returns the
// candidates found in it. Folders are only descended into while some
// candidate is still unaccounted for.
func (m *Manager) ConfirmMembers(ctx context.Context, knowledgeBaseID string, candidates []string) ([]string, error) {
	unresolved := toSet(candidates)
	found := make(map[string]struct{}, len(unresolved))

	queue := []string{"/"}
	for len(queue) > 0 && len(unresolved) > 0 {
		path := queue[0]
		queue = queue[1:]

		children, err := m.lister.KnowledgeBaseChildren(ctx, knowledgeBaseID, path)
		if err != nil {
			return nil, &RemoteError{Op: OpList, KnowledgeBaseID: knowledgeBaseID, Path: path, Err: err}
		}
		for _, child := range children {
			if _, ok := unresolved[child.ID]; ok {
				found[child.ID] = struct{}{}
				delete(unresolved, child.ID)
			}
			if child.IsDirectory() {
				queue = append(queue, child.Path)
			}
		}
	}

	return keys(found), nil
}

// Members returns the declared source set and connection of a knowledge base
func (m *Manager) Members(ctx context.Context, knowledgeBaseID string) ([]string, string, error) {
	kb, err := m.api.GetKnowledgeBase(ctx, knowledgeBaseID)
	if err != nil {
		return nil, "", &RemoteError{Op: OpList, KnowledgeBaseID: knowledgeBaseID, Err: err}
	}
	return Union(kb.ConnectionSourceIDs, nil), kb.ConnectionID, nil
}
