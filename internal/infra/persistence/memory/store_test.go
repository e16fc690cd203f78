package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fishlog/pkg/domain"
)

func TestKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()
	in := []byte("abc")
	if err := kv.Set(ctx, "k", in); err != nil {
		t.Fatalf("set: %v", err)
	}
	in[0] = 'z'
	out, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(out) != "abc" {
		t.Fatalf("stored value aliased caller slice: %s", out)
	}
	out[1] = 'z'
	again, _, _ := kv.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored slice: %s", again)
	}
}

func TestKVSetManyAndRemove(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()
	if err := kv.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
		t.Fatalf("set many: %v", err)
	}
	if err := kv.Remove(ctx, "a", "missing"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "a"); ok {
		t.Fatalf("expected a removed")
	}
	if keys := kv.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := kv.SetMany(cancelled, map[string][]byte{"c": nil}); err == nil {
		t.Fatalf("expected cancelled context error")
	}
}

func TestDocumentsCreateStampsServerTimestamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	n := 0
	docs := NewDocuments(
		WithNow(func() time.Time { return now }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("doc-%d", n) }),
	)
	id, err := docs.Create(ctx, domain.CollectionFishingRecords, map[string]any{"id": "r1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "doc-1" {
		t.Fatalf("unexpected id %s", id)
	}
	all, err := docs.FetchAll(ctx, domain.CollectionFishingRecords, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(all) != 1 || !all[0].CreatedAt.Equal(now) || !all[0].UpdatedAt.Equal(now) {
		t.Fatalf("unexpected documents %+v", all)
	}
	if _, err := docs.Create(ctx, "x", []int{1}); err == nil {
		t.Fatalf("expected non-object payload to be rejected")
	}
}

func TestDocumentsFilterAndFindOne(t *testing.T) {
	ctx := context.Background()
	docs := NewDocuments()
	seed := []struct {
		id   string
		data map[string]any
	}{
		{"u1", map[string]any{"name": "Somchai", "phone": "0812345678", "role": "fisher", "isActive": true, "fisherProfile": map[string]any{"nickname": "Chai"}}},
		{"u2", map[string]any{"name": "Dr. Nok", "phone": "0899999999", "role": "researcher", "isActive": true}},
		{"u3", map[string]any{"name": "Lek", "phone": "0811111111", "role": "fisher", "isActive": false}},
	}
	for _, s := range seed {
		if err := docs.Seed(domain.CollectionUsers, s.id, s.data); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	active, err := docs.FetchAll(ctx, domain.CollectionUsers, domain.Filter{"role": "fisher", "isActive": true})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(active) != 1 || active[0].ID != "u1" {
		t.Fatalf("unexpected active fishers %+v", active)
	}
	doc, ok, err := docs.FindOne(ctx, domain.CollectionUsers, "phone", "0899999999")
	if err != nil || !ok || doc.ID != "u2" {
		t.Fatalf("find by phone: %+v %v %v", doc, ok, err)
	}
	nested, ok, _ := docs.FindOne(ctx, domain.CollectionUsers, "fisherProfile.nickname", "Chai")
	if !ok || nested.ID != "u1" {
		t.Fatalf("expected nested field lookup to match u1")
	}
	if _, ok, _ := docs.FindOne(ctx, domain.CollectionUsers, "phone", "000"); ok {
		t.Fatalf("expected miss")
	}
}

func TestDocumentsUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := NewDocuments(WithNow(func() time.Time { return tick }))
	if err := docs.Seed(domain.CollectionUsers, "u1", map[string]any{"name": "A", "phone": "1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tick = tick.Add(time.Hour)
	if err := docs.Update(ctx, domain.CollectionUsers, "u1", map[string]any{"name": "B", "village": "V"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _, _ := docs.FindOne(ctx, domain.CollectionUsers, "phone", "1")
	var got map[string]string
	if err := doc.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["name"] != "B" || got["village"] != "V" || got["phone"] != "1" {
		t.Fatalf("unexpected merged doc %v", got)
	}
	if !doc.UpdatedAt.Equal(tick) || doc.CreatedAt.Equal(tick) {
		t.Fatalf("expected only updatedAt to move: %+v", doc)
	}
	err := docs.Update(ctx, domain.CollectionUsers, "missing", map[string]any{"x": 1})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
