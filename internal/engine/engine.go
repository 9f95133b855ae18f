// Package engine reconciles include/exclude actions against a remote
// knowledge base.
//
// Every membership mutation reads the whole member set and replaces it, so
// mutations against one knowledge base run strictly one at a time. Statuses
// enter pending before queueing and always leave it when the operation
// settles.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tildaslashalef/kbpicker/internal/journal"
	"github.com/tildaslashalef/kbpicker/internal/knowledgebase"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/metrics"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
	"github.com/tildaslashalef/kbpicker/internal/status"
	"golang.org/x/sync/errgroup"
)

// ErrNoConnection is returned when an operation has no connection id to
// submit the member set against
var ErrNoConnection = errors.New("no connection id")

// key used by the queue before a knowledge base exists
const newKnowledgeBaseKey = "\x00new"

// Manager mutates the remote member set
type Manager interface {
	EnsureCreated(ctx context.Context, connectionID string, initialIDs []string, name string) (string, error)
	MergeInclude(ctx context.Context, knowledgeBaseID, connectionID string, current, newIDs []string) ([]string, error)
	ExcludeRecursive(ctx context.Context, knowledgeBaseID string, r resource.Resource) ([]string, error)
	SubtractAndResubmit(ctx context.Context, knowledgeBaseID, connectionID string, current, removed []string) ([]string, bool, error)
	ConfirmMembers(ctx context.Context, knowledgeBaseID string, candidates []string) ([]string, error)
	Members(ctx context.Context, knowledgeBaseID string) ([]string, string, error)
}

// Syncer triggers remote materialization
type Syncer interface {
	TriggerSync(ctx context.Context, knowledgeBaseID string) error
}

// Directory lists connection and knowledge-base folders
type Directory interface {
	ConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]resource.Resource, error)
	KnowledgeBaseChildren(ctx context.Context, knowledgeBaseID, path string) ([]resource.Resource, error)
}

// Recorder stores settled operations
type Recorder interface {
	Append(ctx context.Context, entry *journal.Entry) error
}

// Options seeds an engine
type Options struct {
	KnowledgeBaseID string
	ConnectionID    string
	MemberIDs       []string
	Name            string
	Journal         Recorder
	Metrics         *metrics.Metrics
	Logger          *loggy.Logger
}

// Item is a listed resource with its local status
type Item struct {
	resource.Resource
	Status status.Status
}

// Engine sequences the manager, the sync trigger and the status store
type Engine struct {
	manager Manager
	syncer  Syncer
	dir     Directory
	store   *status.Store
	queue   *queue

	name    string
	journal Recorder
	metrics *metrics.Metrics
	logger  *loggy.Logger

	mu           sync.RWMutex
	kbID         string
	connectionID string
	members      []string
}

// New creates an engine
func New(manager Manager, syncer Syncer, dir Directory, store *status.Store, opts Options) *Engine {
	if store == nil {
		store = status.NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggy.GetGlobalLogger()
	}

	e := &Engine{
		manager:      manager,
		syncer:       syncer,
		dir:          dir,
		store:        store,
		queue:        newQueue(),
		name:         opts.Name,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		logger:       logger,
		kbID:         opts.KnowledgeBaseID,
		connectionID: opts.ConnectionID,
		members:      knowledgebase.Union(opts.MemberIDs, nil),
	}

	if e.metrics != nil {
		e.metrics.SetMembers(len(e.members))
		store.OnChange(func([]status.Change) {
			e.metrics.SetPending(len(store.PendingIDs()))
		})
	}
	if len(e.members) > 0 {
		store.ReconcileFromRemoteMembership(e.members)
	}
	return e
}

// Status returns the local status of a resource
func (e *Engine) Status(resourceID string) status.Status {
	return e.store.Get(resourceID)
}

// Store returns the status store
func (e *Engine) Store() *status.Store {
	return e.store
}

// KnowledgeBaseID returns the current knowledge base id, empty before the
// first successful include
func (e *Engine) KnowledgeBaseID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kbID
}

// ConnectionID returns the connection the knowledge base is built from
func (e *Engine) ConnectionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connectionID
}

// Members returns a copy of the local member set
func (e *Engine) Members() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.members...)
}

func (e *Engine) publish(kbID, connectionID string, members []string) {
	e.mu.Lock()
	e.kbID = kbID
	if connectionID != "" {
		e.connectionID = connectionID
	}
	if members != nil {
		e.members = members
	}
	n := len(e.members)
	e.mu.Unlock()
	e.metrics.SetMembers(n)
}

// lock waits for the queue of the current knowledge base. If the knowledge
// base changes while waiting (typically: it was just created) the wait moves
// to the new id.
func (e *Engine) lock(ctx context.Context) (string, func(), error) {
	for {
		kbID := e.KnowledgeBaseID()
		key := kbID
		if key == "" {
			key = newKnowledgeBaseKey
		}
		release, err := e.queue.acquire(ctx, key)
		if err != nil {
			return "", nil, err
		}
		if e.KnowledgeBaseID() == kbID {
			return kbID, release, nil
		}
		release()
	}
}

// Include adds resources to the knowledge base, creating it on first use.
// Resources already indexed or pending are skipped; if nothing is left no
// remote call is made.
func (e *Engine) Include(ctx context.Context, connectionID string, resources []resource.Resource) error {
	start := time.Now()
	ctx, logger := loggy.WithOperation(ctx, e.logger, string(journal.OperationInclude))

	accepted := e.store.BeginInclude(nonEmpty(resource.IDs(resources))...)
	entry := journal.NewEntry(loggy.OperationID(ctx), journal.OperationInclude, accepted)
	// every path out of here must leave accepted ids settled
	defer e.store.Settle(status.DirectionIncluding, status.NotIndexed, accepted...)

	if len(accepted) == 0 {
		logger.Debug("Nothing to include")
		entry.MarkNoop("already indexed or pending")
		e.finish(ctx, entry, start, nil)
		return nil
	}

	if connectionID == "" {
		connectionID = firstConnection(resources)
	}
	if connectionID == "" {
		connectionID = e.ConnectionID()
	}
	if connectionID == "" {
		e.finish(ctx, entry, start, ErrNoConnection)
		return ErrNoConnection
	}

	kbID, release, err := e.lock(ctx)
	if err != nil {
		e.finish(ctx, entry, start, err)
		return err
	}
	defer release()

	logger.Info("Including resources", "count", len(accepted), "knowledge_base_id", kbID)

	var merged []string
	created := false
	if kbID == "" {
		kbID, err = e.manager.EnsureCreated(ctx, connectionID, accepted, e.name)
		if err == nil {
			created = true
			merged = knowledgebase.Union(accepted, nil)
		}
	} else {
		merged, err = e.manager.MergeInclude(ctx, kbID, connectionID, e.Members(), accepted)
	}
	if err == nil {
		err = e.syncer.TriggerSync(ctx, kbID)
	}

	if created {
		// The knowledge base exists remotely even if the sync was refused;
		// publishing it keeps the next include from creating a second one.
		if err != nil {
			e.publish(kbID, connectionID, []string{})
		} else {
			e.publish(kbID, connectionID, merged)
		}
	}

	if err != nil {
		e.store.Settle(status.DirectionIncluding, status.NotIndexed, accepted...)
		logger.WithError(err).Error("Include failed", "knowledge_base_id", kbID)
		e.finish(ctx, entry, start, err)
		return err
	}

	if !created {
		e.publish(kbID, connectionID, merged)
	}
	e.store.Settle(status.DirectionIncluding, status.Indexed, accepted...)
	entry.MarkSuccessful(kbID, len(merged))
	e.finish(ctx, entry, start, nil)
	return nil
}

// Exclude removes r, and its whole subtree for directories, from the
// knowledge base. Excluding a resource that is not indexed is a no-op.
func (e *Engine) Exclude(ctx context.Context, r resource.Resource) error {
	start := time.Now()
	ctx, logger := loggy.WithOperation(ctx, e.logger, string(journal.OperationExclude))
	entry := journal.NewEntry(loggy.OperationID(ctx), journal.OperationExclude, []string{r.ID})

	if e.KnowledgeBaseID() == "" {
		logger.Warn("No knowledge base, nothing to exclude", "resource_id", r.ID)
		entry.MarkNoop("no knowledge base")
		e.finish(ctx, entry, start, nil)
		return nil
	}
	if !e.store.BeginExclude(r.ID) {
		logger.Debug("Resource not indexed, nothing to exclude", "resource_id", r.ID, "status", e.store.Get(r.ID))
		entry.MarkNoop("not indexed")
		e.finish(ctx, entry, start, nil)
		return nil
	}
	// an exclude that did not take effect leaves the resource indexed
	defer e.store.Settle(status.DirectionExcluding, status.Indexed, r.ID)

	connectionID := r.ConnectionID
	if connectionID == "" {
		connectionID = e.ConnectionID()
	}
	if connectionID == "" {
		e.finish(ctx, entry, start, ErrNoConnection)
		return ErrNoConnection
	}

	kbID, release, err := e.lock(ctx)
	if err != nil {
		e.finish(ctx, entry, start, err)
		return err
	}
	defer release()

	if kbID == "" {
		logger.Warn("Knowledge base was forgotten, nothing to exclude", "resource_id", r.ID)
		entry.MarkNoop("no knowledge base")
		e.finish(ctx, entry, start, nil)
		return nil
	}

	logger.Info("Excluding resource", "resource_id", r.ID, "path", r.Path, "kind", r.Kind, "knowledge_base_id", kbID)

	pre := e.Members()
	remainder, deleted, err := e.exclude(ctx, kbID, connectionID, r, pre)
	if err != nil {
		logger.WithError(err).Error("Exclude failed", "knowledge_base_id", kbID)
		e.finish(ctx, entry, start, err)
		return err
	}

	e.publish(kbID, connectionID, remainder)
	e.store.Settle(status.DirectionExcluding, status.NotIndexed, r.ID)
	// deleted descendants and members that did not survive the confirm
	// listing are no longer indexed
	gone := knowledgebase.Subtract(knowledgebase.Union(pre, deleted), remainder)
	e.store.ReconcileListing(remainder, gone)

	entry.KnowledgeBaseID = kbID
	entry.MarkSuccessful(kbID, len(remainder))
	e.finish(ctx, entry, start, nil)
	return nil
}

// exclude returns the confirmed remainder and the ids deleted remotely
func (e *Engine) exclude(ctx context.Context, kbID, connectionID string, r resource.Resource, pre []string) ([]string, []string, error) {
	deleted, err := e.manager.ExcludeRecursive(ctx, kbID, r)
	if err != nil {
		return nil, nil, err
	}
	if err := e.syncer.TriggerSync(ctx, kbID); err != nil {
		return nil, nil, err
	}

	confirmed, err := e.manager.ConfirmMembers(ctx, kbID, pre)
	if err != nil {
		return nil, nil, err
	}
	removed := knowledgebase.Union(knowledgebase.Subtract(pre, confirmed), append(deleted, r.ID))

	remainder, resubmitted, err := e.manager.SubtractAndResubmit(ctx, kbID, connectionID, pre, removed)
	if err != nil {
		return nil, nil, err
	}
	if resubmitted {
		if err := e.syncer.TriggerSync(ctx, kbID); err != nil {
			return nil, nil, err
		}
	}

	loggy.FromContext(ctx).Debug("Exclude reconciled",
		"deleted", len(deleted),
		"removed", len(removed),
		"remaining", len(remainder),
		"resubmitted", resubmitted)
	return remainder, deleted, nil
}

// Attach binds the engine to an existing knowledge base and rebuilds the
// member set and statuses from it
func (e *Engine) Attach(ctx context.Context, knowledgeBaseID, connectionID string) error {
	start := time.Now()
	ctx, logger := loggy.WithOperation(ctx, e.logger, string(journal.OperationAttach))
	entry := journal.NewEntry(loggy.OperationID(ctx), journal.OperationAttach, nil)

	_, release, err := e.lock(ctx)
	if err != nil {
		e.finish(ctx, entry, start, err)
		return err
	}
	defer release()

	members, remoteConnection, err := e.manager.Members(ctx, knowledgeBaseID)
	if err != nil {
		e.finish(ctx, entry, start, err)
		return err
	}
	if remoteConnection != "" {
		connectionID = remoteConnection
	}

	e.mu.Lock()
	e.kbID = knowledgeBaseID
	e.connectionID = connectionID
	e.members = members
	e.mu.Unlock()
	e.metrics.SetMembers(len(members))

	e.store.Reset()
	e.store.ReconcileFromRemoteMembership(members)

	logger.Info("Attached knowledge base", "knowledge_base_id", knowledgeBaseID, "members", len(members))
	entry.ResourceIDs = members
	entry.MarkSuccessful(knowledgeBaseID, len(members))
	e.finish(ctx, entry, start, nil)
	return nil
}

// Forget detaches the engine from its knowledge base. Nothing is deleted
// remotely.
func (e *Engine) Forget(ctx context.Context) error {
	_, release, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	e.kbID = ""
	e.members = nil
	e.mu.Unlock()
	e.metrics.SetMembers(0)
	e.store.Reset()
	return nil
}

// Refresh lists a knowledge-base folder and marks what it finds as indexed.
// It waits for any in-flight mutation so the listing reflects it.
func (e *Engine) Refresh(ctx context.Context, path string) ([]resource.Resource, error) {
	kbID, release, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if kbID == "" {
		return []resource.Resource{}, nil
	}
	children, err := e.dir.KnowledgeBaseChildren(ctx, kbID, path)
	if err != nil {
		return nil, &knowledgebase.RemoteError{Op: knowledgebase.OpList, KnowledgeBaseID: kbID, Path: path, Err: err}
	}
	e.store.ReconcileFromRemoteMembership(resource.IDs(children))
	return children, nil
}

// Browse lists a connection folder together with the matching knowledge-base
// folder and returns each child with its reconciled status. An empty
// resourceID lists the connection root.
func (e *Engine) Browse(ctx context.Context, connectionID, resourceID, path string) ([]Item, error) {
	if connectionID == "" {
		connectionID = e.ConnectionID()
	}
	if connectionID == "" {
		return nil, ErrNoConnection
	}

	kbID, release, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var children, indexed []resource.Resource
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		children, err = e.dir.ConnectionChildren(gctx, connectionID, resourceID)
		return err
	})
	if kbID != "" {
		g.Go(func() error {
			var err error
			indexed, err = e.dir.KnowledgeBaseChildren(gctx, kbID, path)
			if err != nil {
				return &knowledgebase.RemoteError{Op: knowledgebase.OpList, KnowledgeBaseID: kbID, Path: path, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if kbID != "" {
		// declared members stay indexed until a confirm listing says otherwise
		expected := knowledgebase.Subtract(resource.IDs(children), e.Members())
		e.store.ReconcileListing(resource.IDs(indexed), expected)
	}

	items := make([]Item, 0, len(children))
	for _, child := range children {
		items = append(items, Item{Resource: child, Status: e.store.Get(child.ID)})
	}
	return items, nil
}

func (e *Engine) finish(ctx context.Context, entry *journal.Entry, start time.Time, err error) {
	if err != nil {
		entry.MarkFailed(ErrorKind(err), err.Error())
	}

	result := metrics.ResultSuccess
	switch entry.Outcome {
	case journal.OutcomeFailure:
		result = metrics.ResultFailure
	case journal.OutcomeNoop:
		result = metrics.ResultNoop
	}
	e.metrics.ObserveOperation(string(entry.Operation), result, time.Since(start))

	if e.journal == nil {
		return
	}
	if entry.KnowledgeBaseID == "" {
		entry.KnowledgeBaseID = e.KnowledgeBaseID()
	}
	// the journal outlives a cancelled operation context
	if jerr := e.journal.Append(context.WithoutCancel(ctx), entry); jerr != nil {
		loggy.FromContext(ctx).WithError(jerr).Warn("Failed to record operation")
	}
}

// ErrorKind classifies err for display and the journal
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, stackai.ErrAuthRequired):
		return "auth"
	case errors.Is(err, ErrNoConnection):
		return "no_connection"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	if op := knowledgebase.Kind(err); op != "" {
		return string(op)
	}
	return "unknown"
}

func firstConnection(resources []resource.Resource) string {
	for _, r := range resources {
		if r.ConnectionID != "" {
			return r.ConnectionID
		}
	}
	return ""
}

func nonEmpty(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
