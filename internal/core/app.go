package core

import (
	"context"
	"time"

	"fishlog/internal/blob"
	"fishlog/pkg/domain"
)

// App wires the session, the record engine and the reference cache over one
// set of stores. It is created once per process.
type App struct {
	Session *Session
	Records *Records
	Refs    *RefCache
	opts    options
}

// NewApp constructs the components. photos may be nil.
func NewApp(local domain.LocalStore, remote domain.DocumentStore, photos blob.Store, opts ...Option) *App {
	session := NewSession(local, remote, opts...)
	return &App{
		Session: session,
		Records: NewRecords(local, remote, photos, session, opts...),
		Refs:    NewRefCache(local, remote, opts...),
		opts:    buildOptions(opts),
	}
}

// Start restores the persisted session and loads the local history so reads
// work before any network call. It reports whether someone is signed in.
func (a *App) Start(ctx context.Context) bool {
	identity, _ := a.Session.Restore(ctx)
	n := a.Records.Bootstrap(ctx)
	a.opts.logger.Debug("restored local state", "records", n, "signed_in", identity != nil)
	return identity != nil
}

// View returns the history visible to the current identity, searched and sorted.
func (a *App) View(search string, key SortKey) []domain.CatchRecord {
	identity, selection, _ := a.Session.snapshot()
	return BuildView(a.Records.History(), ViewQuery{
		Identity:  identity,
		Selection: selection,
		Search:    search,
		Sort:      key,
		Zone:      a.opts.zone,
	})
}

// Stats returns monthly stats over the current identity's records, ignoring
// any search.
func (a *App) Stats() []MonthStats {
	identity, selection, _ := a.Session.snapshot()
	return MonthlyStats(FilterByOwner(a.Records.History(), identity, selection), a.opts.zone)
}

// Zone returns the display zone.
func (a *App) Zone() *time.Location { return a.opts.zone }

// Close waits for background syncs and detaches listeners.
func (a *App) Close() {
	a.Records.Close()
}
