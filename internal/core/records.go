package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	blobcore "fishlog/internal/blob/core"
	"fishlog/pkg/domain"
)

// ErrReconcileDiscarded is returned when the identity changed while a
// reconcile was in flight and its result was dropped.
var ErrReconcileDiscarded = errors.New("reconcile result discarded: identity changed")

// SyncState is the coarse remote synchronization state.
type SyncState string

// Sync states.
const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncError   SyncState = "error"
)

// SyncStatus reports the last synchronization outcome.
type SyncStatus struct {
	State        SyncState
	LastSyncTime time.Time
	LastError    string
}

// FisherDisplay is the display name and village shown on the entry screens.
type FisherDisplay struct {
	Name    string `json:"name"`
	Village string `json:"village"`
}

// Records owns the canonical catch history, the in-progress draft and the
// remote synchronization of both.
type Records struct {
	store   domain.LocalStore
	remote  domain.DocumentStore
	photos  blobcore.Store
	session *Session
	opts    options
	group   singleflight.Group

	// persistMu serializes history writes. Each writer snapshots the history
	// while holding it, so the last write always carries the latest list.
	persistMu sync.Mutex

	mu       sync.RWMutex
	history  []domain.CatchRecord
	draft    domain.Draft
	status   SyncStatus
	display  FisherDisplay
	unsynced map[string]struct{}
	pending  sync.WaitGroup
	detach   func()
}

// NewRecords constructs the engine. photos may be nil, in which case photo
// references stay local.
func NewRecords(store domain.LocalStore, remote domain.DocumentStore, photos blobcore.Store, session *Session, opts ...Option) *Records {
	r := &Records{
		store:    store,
		remote:   remote,
		photos:   photos,
		session:  session,
		opts:     buildOptions(opts),
		status:   SyncStatus{State: SyncIdle},
		unsynced: make(map[string]struct{}),
		history:  []domain.CatchRecord{},
	}
	r.draft = domain.NewDraft(domain.InstantOf(r.opts.clock.Now()))
	if session != nil {
		r.detach = session.OnSelectionChange(func(_, _ *domain.Identity) {
			r.ResetDraft()
		})
	}
	return r
}

// Close detaches the engine from its session and waits for pending syncs.
func (r *Records) Close() {
	if r.detach != nil {
		r.detach()
	}
	r.pending.Wait()
}

// Bootstrap loads the persisted history and fisher display info into memory.
// It returns the number of records loaded.
func (r *Records) Bootstrap(ctx context.Context) int {
	var raw []json.RawMessage
	var history []domain.CatchRecord
	if loadJSON(ctx, r.store, r.opts.logger, keyHistory, &raw) {
		history = decodeHistory(raw, r.opts.logger)
	}
	var display FisherDisplay
	hasDisplay := loadJSON(ctx, r.store, r.opts.logger, keyFisherInfo, &display)

	r.mu.Lock()
	defer r.mu.Unlock()
	if history != nil {
		r.history = history
	}
	if hasDisplay {
		r.display = display
	}
	return len(r.history)
}

// History returns a copy of the canonical history, newest first.
func (r *Records) History() []domain.CatchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRecords(r.history)
}

// Status returns the current synchronization status.
func (r *Records) Status() SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Unsynced returns the ids of locally committed records whose upload failed.
func (r *Records) Unsynced() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.unsynced))
	for id := range r.unsynced {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reconcile replaces the history with every record in the remote collection.
// Concurrent calls share one fetch. Records never uploaded are dropped by the
// replace; their count is logged.
func (r *Records) Reconcile(ctx context.Context) (int, error) {
	identity, _, epoch := r.session.snapshot()
	if !IsAuthenticated(identity) {
		return 0, domain.ErrNotAuthenticated
	}
	key := fmt.Sprintf("%s#%d", identity.ID, epoch)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.reconcile(ctx, identity.ID, epoch)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Records) reconcile(ctx context.Context, userID string, epoch uint64) (int, error) {
	r.setStatus(SyncSyncing, nil)
	var fetched []domain.CatchRecord
	err := r.opts.observe(ctx, opReconcile, func(ctx context.Context) error {
		docs, err := r.remote.FetchAll(ctx, domain.CollectionFishingRecords, nil)
		if err != nil {
			return err
		}
		fetched = make([]domain.CatchRecord, 0, len(docs))
		for _, doc := range docs {
			rec, err := recordFromDocument(doc)
			if err != nil {
				r.opts.logger.Warn("skipping unreadable remote record", "id", doc.ID, "error", err)
				continue
			}
			fetched = append(fetched, rec)
		}
		return nil
	})
	if err != nil {
		r.opts.logger.Error("reconcile failed", "user", userID, "error", err)
		r.setStatus(SyncError, err)
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	sortNewestCreated(fetched)

	dropped, ok := r.replaceHistory(epoch, fetched)
	if !ok {
		r.opts.logger.Info("discarding reconcile result", "user", userID)
		return 0, ErrReconcileDiscarded
	}
	if dropped > 0 {
		r.opts.logger.Warn("reconcile dropped records that were never uploaded", "user", userID, "count", dropped)
	}
	r.persistHistory(ctx)
	r.opts.logger.Info("reconciled history", "user", userID, "records", len(fetched))
	return len(fetched), nil
}

// replaceHistory installs fetched as the history unless the identity epoch
// moved past epoch. It reports how many unsynced records the replace dropped.
func (r *Records) replaceHistory(epoch uint64, fetched []domain.CatchRecord) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.currentEpoch() != epoch {
		r.status = SyncStatus{State: SyncIdle, LastSyncTime: r.status.LastSyncTime}
		return 0, false
	}
	present := make(map[string]struct{}, len(fetched))
	for _, rec := range fetched {
		present[rec.ID] = struct{}{}
	}
	dropped := 0
	for id := range r.unsynced {
		if _, ok := present[id]; !ok {
			dropped++
		}
	}
	r.unsynced = make(map[string]struct{})
	r.history = cloneRecords(fetched)
	r.status = SyncStatus{State: SyncSuccess, LastSyncTime: r.opts.clock.Now()}
	return dropped, true
}

// Draft returns a copy of the in-progress draft.
func (r *Records) Draft() domain.Draft {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.draft.Clone()
}

// AddFish appends entry to the draft.
func (r *Records) AddFish(entry domain.FishEntry) domain.Draft {
	return r.mutateDraft(func(d domain.Draft) domain.Draft { return d.WithFish(entry) })
}

// RemoveFish drops the draft entry at index. Out-of-range indexes are ignored.
func (r *Records) RemoveFish(index int) domain.Draft {
	return r.mutateDraft(func(d domain.Draft) domain.Draft { return d.WithoutFish(index) })
}

// UpdateDraft replaces the patched top-level draft fields.
func (r *Records) UpdateDraft(patch domain.DraftPatch) domain.Draft {
	return r.mutateDraft(func(d domain.Draft) domain.Draft { return d.Apply(patch) })
}

// ResetDraft restores an empty draft dated now, dropping any spot or
// adjusted location.
func (r *Records) ResetDraft() domain.Draft {
	fresh := domain.NewDraft(domain.InstantOf(r.opts.clock.Now()))
	return r.mutateDraft(func(domain.Draft) domain.Draft { return fresh })
}

func (r *Records) mutateDraft(fn func(domain.Draft) domain.Draft) domain.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draft = fn(r.draft)
	return r.draft.Clone()
}

// FisherDisplay returns the persisted fisher display info.
func (r *Records) FisherDisplay() FisherDisplay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.display
}

// UpdateFisherDisplay merges non-empty fields into the display info and persists it.
func (r *Records) UpdateFisherDisplay(ctx context.Context, info FisherDisplay) FisherDisplay {
	r.mu.Lock()
	if info.Name != "" {
		r.display.Name = info.Name
	}
	if info.Village != "" {
		r.display.Village = info.Village
	}
	out := r.display
	r.mu.Unlock()
	_ = saveJSON(ctx, r.store, r.opts.logger, keyFisherInfo, out)
	return out
}

// SaveDraft commits the current draft.
func (r *Records) SaveDraft(ctx context.Context) (*CommitHandle, error) {
	return r.Commit(ctx, r.Draft())
}

// Commit stamps draft as a new record owned by the effective owner and
// prepends it to the history before returning. Photo uploads and the remote
// write run in the background and report through the returned handle.
func (r *Records) Commit(ctx context.Context, draft domain.Draft) (*CommitHandle, error) {
	started := r.opts.clock.Now()
	identity, selection, _ := r.session.snapshot()
	fisherInfo, recordedBy, err := recordOwnership(identity, selection)
	if err != nil {
		actor := ""
		if identity != nil {
			actor = identity.ID
		}
		r.opts.recordAudit(ctx, opCommit, actor, "", 0, err)
		return nil, err
	}
	id, err := r.opts.newID()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}

	rec := draft.ToRecord()
	rec.ID = id
	rec.CreatedAt = domain.InstantOf(started)
	rec.FisherInfo = fisherInfo
	rec.RecordedBy = recordedBy

	r.mu.Lock()
	r.history = append([]domain.CatchRecord{rec.Clone()}, r.history...)
	r.draft = domain.NewDraft(domain.InstantOf(started))
	r.mu.Unlock()

	r.persistHistory(ctx)
	r.opts.logger.Info("committed record", "record", rec.ID, "owner", fisherInfo.ID)
	r.opts.recordAudit(ctx, opCommit, identity.ID, rec.ID, r.opts.clock.Now().Sub(started), nil)

	handle := newCommitHandle(rec.Clone())
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		res := r.upload(context.WithoutCancel(ctx), *identity, rec)
		handle.finish(res)
	}()
	return handle, nil
}

// Wait blocks until every background sync has finished.
func (r *Records) Wait() {
	r.pending.Wait()
}

func (r *Records) setStatus(state SyncState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = state
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	if state == SyncSuccess {
		r.status.LastSyncTime = r.opts.clock.Now()
	}
}

// persistHistory mirrors the in-memory history to the local store.
func (r *Records) persistHistory(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	_ = saveJSON(ctx, r.store, r.opts.logger, keyHistory, r.History())
}

// sortNewestCreated orders records by creation time, newest first. Records
// with unknown creation times sort last; ties keep their input order.
func sortNewestCreated(records []domain.CatchRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[j].CreatedAt.Before(records[i].CreatedAt)
	})
}

func cloneRecords(in []domain.CatchRecord) []domain.CatchRecord {
	out := make([]domain.CatchRecord, len(in))
	for i, rec := range in {
		out[i] = rec.Clone()
	}
	return out
}

func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
