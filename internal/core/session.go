package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fishlog/pkg/domain"
)

// SelectionListener is notified after the acting-for selection changes.
type SelectionListener func(prev, next *domain.Identity)

// Session owns the current identity and a researcher's fisher selection. Both
// are mirrored to the local store so they survive restarts; sign-out clears them.
type Session struct {
	store  domain.LocalStore
	remote domain.DocumentStore
	opts   options

	mu        sync.RWMutex
	identity  *domain.Identity
	selection *domain.Identity
	epoch     uint64
	listeners map[int]SelectionListener
	nextID    int
}

// NewSession constructs an empty session. Call Restore to load persisted state.
func NewSession(store domain.LocalStore, remote domain.DocumentStore, opts ...Option) *Session {
	return &Session{
		store:     store,
		remote:    remote,
		opts:      buildOptions(opts),
		listeners: make(map[int]SelectionListener),
	}
}

// NormalizePhone strips spaces and dashes and ensures a leading zero.
func NormalizePhone(raw string) string {
	phone := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if phone == "" {
		return ""
	}
	if !strings.HasPrefix(phone, "0") {
		phone = "0" + phone
	}
	return phone
}

// Restore loads the persisted identity and selection. Unreadable entries are
// treated as absent.
func (s *Session) Restore(ctx context.Context) (*domain.Identity, *domain.Identity) {
	var identity, selection domain.Identity
	hasIdentity := loadJSON(ctx, s.store, s.opts.logger, keyCurrentUser, &identity) && identity.ID != ""
	hasSelection := loadJSON(ctx, s.store, s.opts.logger, keySelectedFisher, &selection) && selection.ID != ""

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity, s.selection = nil, nil
	if hasIdentity {
		s.identity = cloneIdentity(&identity)
		if hasSelection && identity.Role == domain.RoleResearcher {
			s.selection = cloneIdentity(&selection)
		}
	}
	s.epoch++
	return cloneIdentity(s.identity), cloneIdentity(s.selection)
}

// SignIn looks the user up by phone number and makes them the current
// identity. Inactive accounts are refused. The remote lastLoginAt update is
// best-effort.
func (s *Session) SignIn(ctx context.Context, phone string) (domain.Identity, error) {
	started := s.opts.clock.Now()
	var identity domain.Identity
	err := s.opts.observe(ctx, opSignIn, func(ctx context.Context) error {
		var err error
		identity, err = s.lookup(ctx, NormalizePhone(phone))
		return err
	})
	if err != nil {
		s.opts.logger.Warn("sign in failed", "phone", NormalizePhone(phone), "error", err)
		s.opts.recordAudit(ctx, opSignIn, "", "", s.opts.clock.Now().Sub(started), err)
		return domain.Identity{}, err
	}

	now := s.opts.clock.Now()
	if err := s.remote.Update(ctx, domain.CollectionUsers, identity.ID, map[string]any{
		"lastLoginAt": now.Format(time.RFC3339Nano),
	}); err != nil {
		s.opts.logger.Warn("update last login failed", "user", identity.ID, "error", err)
	}
	identity.LastLoginAt = domain.InstantOf(now)

	s.mu.Lock()
	var prevSelection *domain.Identity
	if s.identity == nil || s.identity.ID != identity.ID {
		prevSelection = s.selection
		s.selection = nil
	}
	s.identity = cloneIdentity(&identity)
	s.epoch++
	listeners := s.listenersLocked()
	s.mu.Unlock()

	_ = saveJSON(ctx, s.store, s.opts.logger, keyCurrentUser, identity)
	if prevSelection != nil {
		_ = removeKeys(ctx, s.store, s.opts.logger, keySelectedFisher)
		notify(listeners, prevSelection, nil)
	}
	s.opts.logger.Info("signed in", "user", identity.ID, "role", identity.Role)
	s.opts.recordAudit(ctx, opSignIn, identity.ID, identity.ID, s.opts.clock.Now().Sub(started), nil)
	return identity, nil
}

func (s *Session) lookup(ctx context.Context, phone string) (domain.Identity, error) {
	if phone == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty phone number", domain.ErrUserNotFound)
	}
	if s.remote == nil {
		return domain.Identity{}, errors.New("sign in: no remote store")
	}
	doc, ok, err := s.remote.FindOne(ctx, domain.CollectionUsers, "phone", phone)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("find user: %w", err)
	}
	if !ok {
		return domain.Identity{}, domain.ErrUserNotFound
	}
	identity, err := decodeIdentity(doc)
	if err != nil {
		return domain.Identity{}, err
	}
	if !identity.Active() {
		return domain.Identity{}, domain.ErrAccountInactive
	}
	return identity, nil
}

// SignOut clears the identity and the selection locally. Remote data is untouched.
func (s *Session) SignOut(ctx context.Context) error {
	started := s.opts.clock.Now()
	s.mu.Lock()
	prev := s.identity
	prevSelection := s.selection
	s.identity, s.selection = nil, nil
	s.epoch++
	listeners := s.listenersLocked()
	s.mu.Unlock()

	err := removeKeys(ctx, s.store, s.opts.logger, keyCurrentUser, keySelectedFisher)
	if prevSelection != nil {
		notify(listeners, prevSelection, nil)
	}
	actor := ""
	if prev != nil {
		actor = prev.ID
	}
	s.opts.recordAudit(ctx, opSignOut, actor, actor, s.opts.clock.Now().Sub(started), err)
	return err
}

// SelectFisher makes fisher the researcher's acting-for selection. Choosing a
// different fisher notifies selection listeners.
func (s *Session) SelectFisher(ctx context.Context, fisher domain.Identity) error {
	started := s.opts.clock.Now()
	s.mu.Lock()
	if !IsAuthenticated(s.identity) {
		s.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	if !IsResearcher(s.identity) {
		s.mu.Unlock()
		return domain.ErrNotResearcher
	}
	if fisher.ID == "" {
		s.mu.Unlock()
		return fmt.Errorf("select fisher: %w", domain.ErrUserNotFound)
	}
	actor := s.identity.ID
	prev := s.selection
	s.selection = cloneIdentity(&fisher)
	changed := prev == nil || prev.ID != fisher.ID
	listeners := s.listenersLocked()
	s.mu.Unlock()

	err := saveJSON(ctx, s.store, s.opts.logger, keySelectedFisher, fisher)
	if changed {
		notify(listeners, prev, cloneIdentity(&fisher))
	}
	s.opts.recordAudit(ctx, opSelectFisher, actor, fisher.ID, s.opts.clock.Now().Sub(started), err)
	return err
}

// ClearSelection drops the acting-for selection.
func (s *Session) ClearSelection(ctx context.Context) error {
	s.mu.Lock()
	prev := s.selection
	s.selection = nil
	listeners := s.listenersLocked()
	s.mu.Unlock()

	err := removeKeys(ctx, s.store, s.opts.logger, keySelectedFisher)
	if prev != nil {
		notify(listeners, prev, nil)
	}
	return err
}

// Current returns a copy of the signed-in identity, or nil.
func (s *Session) Current() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.identity)
}

// Selection returns a copy of the selected fisher, or nil.
func (s *Session) Selection() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.selection)
}

// snapshot returns identity, selection and the identity epoch together.
func (s *Session) snapshot() (*domain.Identity, *domain.Identity, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.identity), cloneIdentity(s.selection), s.epoch
}

func (s *Session) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// OnSelectionChange registers fn and returns a function that removes it.
func (s *Session) OnSelectionChange(fn SelectionListener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) listenersLocked() []SelectionListener {
	out := make([]SelectionListener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []SelectionListener, prev, next *domain.Identity) {
	for _, fn := range listeners {
		fn(cloneIdentity(prev), cloneIdentity(next))
	}
}

// ProfileUpdate carries the profile fields a user may change. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Name     *string
	Village  *string
	District *string
	Province *string
	Nickname *string
}

func (u ProfileUpdate) fields() map[string]any {
	out := make(map[string]any)
	if u.Name != nil {
		out["name"] = *u.Name
	}
	if u.Village != nil {
		out["village"] = *u.Village
	}
	if u.District != nil {
		out["district"] = *u.District
	}
	if u.Province != nil {
		out["province"] = *u.Province
	}
	if u.Nickname != nil {
		out["fisherProfile"] = domain.FisherProfile{Nickname: *u.Nickname}
	}
	return out
}

func (u ProfileUpdate) apply(id *domain.Identity) {
	if u.Name != nil {
		id.Name = *u.Name
	}
	if u.Village != nil {
		id.Village = *u.Village
	}
	if u.District != nil {
		id.District = *u.District
	}
	if u.Province != nil {
		id.Province = *u.Province
	}
	if u.Nickname != nil {
		id.FisherProfile = &domain.FisherProfile{Nickname: *u.Nickname}
	}
}

// UpdateProfile writes the changes remotely, then merges them into the local
// identity with a fresh updatedAt.
func (s *Session) UpdateProfile(ctx context.Context, update ProfileUpdate) (domain.Identity, error) {
	current := s.Current()
	if current == nil {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	fields := update.fields()
	if len(fields) == 0 {
		return *current, nil
	}
	err := s.opts.observe(ctx, opUpdateProfile, func(ctx context.Context) error {
		return s.remote.Update(ctx, domain.CollectionUsers, current.ID, fields)
	})
	if err != nil {
		s.opts.logger.Error("update profile failed", "user", current.ID, "error", err)
		return *current, fmt.Errorf("update profile: %w", err)
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.ID != current.ID {
		s.mu.Unlock()
		return *current, domain.ErrNotAuthenticated
	}
	update.apply(s.identity)
	s.identity.UpdatedAt = domain.InstantOf(s.opts.clock.Now())
	updated := *cloneIdentity(s.identity)
	s.mu.Unlock()

	_ = saveJSON(ctx, s.store, s.opts.logger, keyCurrentUser, updated)
	return updated, nil
}

// RefreshProfile re-reads the identity by phone. When the user is no longer
// found the local identity is kept and found is false.
func (s *Session) RefreshProfile(ctx context.Context) (identity domain.Identity, found bool, err error) {
	current := s.Current()
	if current == nil {
		return domain.Identity{}, false, domain.ErrNotAuthenticated
	}
	var doc domain.Document
	err = s.opts.observe(ctx, opRefreshProfile, func(ctx context.Context) error {
		var err error
		doc, found, err = s.remote.FindOne(ctx, domain.CollectionUsers, "phone", current.Phone)
		return err
	})
	if err != nil {
		return *current, false, fmt.Errorf("refresh profile: %w", err)
	}
	if !found {
		s.opts.logger.Info("user not found remotely, keeping local profile", "user", current.ID)
		return *current, false, nil
	}
	fresh, err := decodeIdentity(doc)
	if err != nil {
		return *current, false, err
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.ID != current.ID {
		s.mu.Unlock()
		return *current, false, domain.ErrNotAuthenticated
	}
	s.identity = cloneIdentity(&fresh)
	s.mu.Unlock()

	_ = saveJSON(ctx, s.store, s.opts.logger, keyCurrentUser, fresh)
	return fresh, true, nil
}

// ActiveFishers lists fisher accounts that are marked active, sorted by name.
func (s *Session) ActiveFishers(ctx context.Context) ([]domain.Identity, error) {
	var out []domain.Identity
	err := s.opts.observe(ctx, opListFishers, func(ctx context.Context) error {
		docs, err := s.remote.FetchAll(ctx, domain.CollectionUsers, domain.Filter{
			"role":     string(domain.RoleFisher),
			"isActive": true,
		})
		if err != nil {
			return err
		}
		out = make([]domain.Identity, 0, len(docs))
		for _, doc := range docs {
			id, err := decodeIdentity(doc)
			if err != nil {
				s.opts.logger.Warn("skipping unreadable user", "id", doc.ID, "error", err)
				continue
			}
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list fishers: %w", err)
	}
	sortByName(out, func(i domain.Identity) string { return i.Name })
	return out, nil
}

// SearchFishers filters fishers whose name, nickname or village contains q,
// ignoring case. An empty query returns the list unchanged.
func SearchFishers(list []domain.Identity, q string) []domain.Identity {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return list
	}
	out := make([]domain.Identity, 0, len(list))
	for _, f := range list {
		if containsFold(q, f.Name, f.Nickname(), f.Village) {
			out = append(out, f)
		}
	}
	return out
}

func decodeIdentity(doc domain.Document) (domain.Identity, error) {
	var identity domain.Identity
	if err := doc.Decode(&identity); err != nil {
		return domain.Identity{}, fmt.Errorf("decode user %s: %w", doc.ID, err)
	}
	if identity.ID == "" {
		identity.ID = doc.ID
	}
	if identity.Role == "" {
		identity.Role = domain.RoleFisher
	}
	return identity, nil
}

func cloneIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	if id.IsActive != nil {
		v := *id.IsActive
		cp.IsActive = &v
	}
	if id.FisherProfile != nil {
		p := *id.FisherProfile
		cp.FisherProfile = &p
	}
	return &cp
}
