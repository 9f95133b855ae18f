package knowledgebase

import (
	"context"
	"sync"

	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"golang.org/x/sync/singleflight"
)

// SyncAPI is the remote surface of the sync trigger
type SyncAPI interface {
	CurrentOrganization(ctx context.Context) (string, error)
	TriggerSync(ctx context.Context, knowledgeBaseID, orgID string) error
}

// Trigger asks the remote system to materialize a knowledge base. Sync calls
// are organization scoped; the organization id is fetched once per session.
type Trigger struct {
	api   SyncAPI
	group singleflight.Group

	mu    sync.RWMutex
	orgID string
}

// NewTrigger creates a Trigger. A non-empty orgID skips the first lookup.
func NewTrigger(api SyncAPI, orgID string) *Trigger {
	return &Trigger{api: api, orgID: orgID}
}

// OrganizationID returns the cached organization id, fetching it on first
// use. Concurrent first calls share one request.
func (t *Trigger) OrganizationID(ctx context.Context) (string, error) {
	t.mu.RLock()
	id := t.orgID
	t.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := t.group.Do("org", func() (any, error) {
		id, err := t.api.CurrentOrganization(ctx)
		if err != nil {
			return "", err
		}
		t.mu.Lock()
		t.orgID = id
		t.mu.Unlock()
		loggy.FromContext(ctx).Debug("Resolved organization", "org_id", id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// TriggerSync returns once the sync request has been accepted. It does not
// wait for indexing to finish.
func (t *Trigger) TriggerSync(ctx context.Context, knowledgeBaseID string) error {
	orgID, err := t.OrganizationID(ctx)
	if err != nil {
		return &RemoteError{Op: OpSync, KnowledgeBaseID: knowledgeBaseID, Err: err}
	}
	if err := t.api.TriggerSync(ctx, knowledgeBaseID, orgID); err != nil {
		return &RemoteError{Op: OpSync, KnowledgeBaseID: knowledgeBaseID, Err: err}
	}
	loggy.FromContext(ctx).Debug("Sync accepted", "knowledge_base_id", knowledgeBaseID)
	return nil
}

// Reset forgets the cached organization id
func (t *Trigger) Reset() {
	t.mu.Lock()
	t.orgID = ""
	t.mu.Unlock()
}
