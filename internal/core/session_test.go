package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fishlog/internal/infra/persistence/memory"
	"fishlog/pkg/domain"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"081-234-5678", "0812345678"},
		{" 81 234 5678 ", "0812345678"},
		{"0812345678", "0812345678"},
		{"", ""},
		{"  -  ", ""},
		{"812\t345-678", "0812345678"},
	}
	for _, tc := range cases {
		in, want := tc.in, tc.want
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q): want %q, got %q", in, want, got)
		}
	}
}

func TestSignInPersistsIdentityAndStampsLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "u1", map[string]any{"name": "Niran", "phone": "0812345678", "role": "Fisher"})

	identity, err := f.session.SignIn(ctx, "81-234-5678")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if identity.ID != "u1" || identity.Role != domain.RoleFisher {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if got, ok := identity.LastLoginAt.Time(); !ok || !got.Equal(baseTime) {
		t.Fatalf("expected lastLoginAt stamped, got %v", identity.LastLoginAt)
	}

	raw, ok, _ := f.local.Get(ctx, keyCurrentUser)
	if !ok {
		t.Fatalf("expected currentUser persisted")
	}
	var stored domain.Identity
	if err := json.Unmarshal(raw, &stored); err != nil || stored.ID != "u1" {
		t.Fatalf("unexpected stored identity %s: %v", raw, err)
	}

	doc, found, _ := f.remote.FindOne(ctx, domain.CollectionUsers, "phone", "0812345678")
	var remote map[string]any
	_ = doc.Decode(&remote)
	if !found || remote["lastLoginAt"] != baseTime.Format(time.RFC3339Nano) {
		t.Fatalf("expected remote lastLoginAt, got %v", remote["lastLoginAt"])
	}
	if !f.audit.has(opSignIn, AuditStatusSuccess, func(e AuditEntry) bool { return e.Actor == "u1" }) {
		t.Fatalf("expected sign_in audit entry")
	}
	if !f.metrics.has(opSignIn, true) {
		t.Fatalf("expected sign_in metric")
	}
}

func TestSignInFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "u1", map[string]any{"name": "A", "phone": "0811111111", "status": "inactive"})
	f.seedUser(t, "u2", map[string]any{"name": "B", "phone": "0822222222", "isActive": false})

	if _, err := f.session.SignIn(ctx, "0899999999"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := f.session.SignIn(ctx, "0811111111"); !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("expected inactive status to be refused, got %v", err)
	}
	if _, err := f.session.SignIn(ctx, "0822222222"); !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("expected isActive=false to be refused, got %v", err)
	}
	if _, err := f.session.SignIn(ctx, " "); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected empty phone to be not found, got %v", err)
	}
	if f.session.Current() != nil {
		t.Fatalf("failed sign in must not set an identity")
	}
	if _, ok, _ := f.local.Get(ctx, keyCurrentUser); ok {
		t.Fatalf("failed sign in must not persist")
	}
	if !f.audit.has(opSignIn, AuditStatusError, nil) {
		t.Fatalf("expected sign_in error audit entry")
	}
}

func TestSignInToleratesLastLoginFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.failUpdate = true
	f.seedUser(t, "u1", map[string]any{"name": "A", "phone": "0811111111"})
	if _, err := f.session.SignIn(context.Background(), "0811111111"); err != nil {
		t.Fatalf("sign in should succeed when lastLoginAt update fails: %v", err)
	}
	if _, ok := f.logger.find("warn", "update last login failed"); !ok {
		t.Fatalf("expected warning for failed lastLoginAt update")
	}
}

func TestSignOutClearsPersistedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signIn(t, "r1", "0811111111", domain.RoleResearcher)
	if err := f.session.SelectFisher(ctx, domain.Identity{ID: "f1", Name: "Somchai"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	var notified []string
	f.session.OnSelectionChange(func(prev, next *domain.Identity) {
		if next == nil && prev != nil {
			notified = append(notified, prev.ID)
		}
	})

	if err := f.session.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if f.session.Current() != nil || f.session.Selection() != nil {
		t.Fatalf("expected identity and selection cleared")
	}
	for _, key := range []string{keyCurrentUser, keySelectedFisher} {
		if _, ok, _ := f.local.Get(ctx, key); ok {
			t.Fatalf("expected %s removed", key)
		}
	}
	if len(notified) != 1 || notified[0] != "f1" {
		t.Fatalf("expected selection listener notified, got %v", notified)
	}
	if !f.audit.has(opSignOut, AuditStatusSuccess, func(e AuditEntry) bool { return e.Actor == "r1" }) {
		t.Fatalf("expected sign_out audit entry")
	}
}

func TestSelectFisherRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fisher := domain.Identity{ID: "f1", Name: "Somchai"}

	if err := f.session.SelectFisher(ctx, fisher); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	f.signIn(t, "u1", "0811111111", domain.RoleFisher)
	if err := f.session.SelectFisher(ctx, fisher); !errors.Is(err, domain.ErrNotResearcher) {
		t.Fatalf("expected ErrNotResearcher, got %v", err)
	}

	f.signIn(t, "r1", "0822222222", domain.RoleResearcher)
	changes := 0
	unsubscribe := f.session.OnSelectionChange(func(_, _ *domain.Identity) { changes++ })
	if err := f.session.SelectFisher(ctx, domain.Identity{}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected empty fisher to be refused, got %v", err)
	}
	if err := f.session.SelectFisher(ctx, fisher); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := f.session.SelectFisher(ctx, fisher); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if changes != 1 {
		t.Fatalf("reselecting the same fisher should not notify, got %d", changes)
	}
	if sel := f.session.Selection(); sel == nil || sel.ID != "f1" {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if _, ok, _ := f.local.Get(ctx, keySelectedFisher); !ok {
		t.Fatalf("expected selection persisted")
	}

	unsubscribe()
	if err := f.session.ClearSelection(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if changes != 1 {
		t.Fatalf("unsubscribed listener should not be called")
	}
	if f.session.Selection() != nil {
		t.Fatalf("expected selection cleared")
	}
	if !f.audit.has(opSelectFisher, AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == "f1" }) {
		t.Fatalf("expected select_fisher audit entry")
	}
}

func TestSignInAsOtherUserDropsSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signIn(t, "r1", "0811111111", domain.RoleResearcher)
	if err := f.session.SelectFisher(ctx, domain.Identity{ID: "f1"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	f.signIn(t, "r1", "0811111111", domain.RoleResearcher)
	if f.session.Selection() == nil {
		t.Fatalf("signing in again as the same user keeps the selection")
	}
	f.signIn(t, "r2", "0822222222", domain.RoleResearcher)
	if f.session.Selection() != nil {
		t.Fatalf("a different identity must not inherit the selection")
	}
	if _, ok, _ := f.local.Get(ctx, keySelectedFisher); ok {
		t.Fatalf("expected persisted selection removed")
	}
}

func TestRestoreSession(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	researcher, _ := json.Marshal(domain.Identity{ID: "r1", Role: domain.RoleResearcher})
	fisher, _ := json.Marshal(domain.Identity{ID: "f1", Role: domain.RoleFisher})
	_ = kv.Set(ctx, keyCurrentUser, researcher)
	_ = kv.Set(ctx, keySelectedFisher, fisher)

	s := NewSession(kv, nil)
	identity, selection := s.Restore(ctx)
	if identity == nil || identity.ID != "r1" || selection == nil || selection.ID != "f1" {
		t.Fatalf("unexpected restore %+v %+v", identity, selection)
	}

	_ = kv.Set(ctx, keyCurrentUser, fisher)
	identity, selection = s.Restore(ctx)
	if identity == nil || identity.ID != "f1" || selection != nil {
		t.Fatalf("a fisher never restores a selection: %+v %+v", identity, selection)
	}

	logger := &captureLogger{}
	_ = kv.Set(ctx, keyCurrentUser, []byte("{not json"))
	s = NewSession(kv, nil, WithLogger(logger))
	if identity, _ := s.Restore(ctx); identity != nil {
		t.Fatalf("corrupt identity should restore as signed out")
	}
	if _, ok := logger.find("warn", "local store value unreadable"); !ok {
		t.Fatalf("expected warning for unreadable value")
	}
}

func TestUpdateAndRefreshProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.session.UpdateProfile(ctx, ProfileUpdate{}); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	f.signIn(t, "u1", "0811111111", domain.RoleFisher)

	name, nickname := "Niran K.", "Noi"
	f.clock.Advance(time.Hour)
	updated, err := f.session.UpdateProfile(ctx, ProfileUpdate{Name: &name, Nickname: &nickname})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.Nickname() != nickname {
		t.Fatalf("unexpected updated identity %+v", updated)
	}
	if got, _ := updated.UpdatedAt.Time(); !got.Equal(baseTime.Add(time.Hour)) {
		t.Fatalf("expected updatedAt stamped, got %v", got)
	}
	docs, _ := f.remote.FetchAll(ctx, domain.CollectionUsers, domain.Filter{"fisherProfile.nickname": "Noi"})
	if len(docs) != 1 {
		t.Fatalf("expected remote nickname update")
	}

	refreshed, found, err := f.session.RefreshProfile(ctx)
	if err != nil || !found || refreshed.Name != name {
		t.Fatalf("refresh: %+v found=%v err=%v", refreshed, found, err)
	}

	f.remote.failUpdate = true
	village := "Ban Don"
	if _, err := f.session.UpdateProfile(ctx, ProfileUpdate{Village: &village}); !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if f.session.Current().Village == village {
		t.Fatalf("failed remote update must not change the local identity")
	}
}

func TestRefreshProfileKeepsLocalWhenMissing(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	raw, _ := json.Marshal(domain.Identity{ID: "gone", Name: "Old", Phone: "0800000000"})
	_ = kv.Set(ctx, keyCurrentUser, raw)
	s := NewSession(kv, memory.NewDocuments())
	s.Restore(ctx)

	identity, found, err := s.RefreshProfile(ctx)
	if err != nil || found || identity.Name != "Old" {
		t.Fatalf("expected local identity kept: %+v found=%v err=%v", identity, found, err)
	}
}

func TestActiveFishersAndSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "f1", map[string]any{"name": "สมชาย", "phone": "01", "role": "fisher", "isActive": true, "village": "บ้านนา"})
	f.seedUser(t, "f2", map[string]any{"name": "กมล", "phone": "02", "role": "fisher", "isActive": true, "fisherProfile": map[string]any{"nickname": "หนุ่ม"}})
	f.seedUser(t, "f3", map[string]any{"name": "ปิด", "phone": "03", "role": "fisher", "isActive": false})
	f.seedUser(t, "r1", map[string]any{"name": "นักวิจัย", "phone": "04", "role": "researcher", "isActive": true})

	list, err := f.session.ActiveFishers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !equalStrings(identityIDs(list), []string{"f2", "f1"}) {
		t.Fatalf("expected active fishers sorted by name, got %+v", list)
	}
	if got := SearchFishers(list, "หนุ่ม"); len(got) != 1 || got[0].ID != "f2" {
		t.Fatalf("expected nickname match, got %+v", got)
	}
	if got := SearchFishers(list, "บ้านนา"); len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("expected village match, got %+v", got)
	}
	if got := SearchFishers(list, ""); len(got) != 2 {
		t.Fatalf("empty query should return everything")
	}

	f.remote.failFetch = true
	if _, err := f.session.ActiveFishers(ctx); !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func identityIDs(list []domain.Identity) []string {
	out := make([]string, len(list))
	for i, id := range list {
		out[i] = id.ID
	}
	return out
}
