package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fishlog/pkg/domain"
)

var _ domain.DocumentStore = (*Documents)(nil)

type storedDocument struct {
	doc domain.Document
	seq int
}

// Documents is an in-memory DocumentStore keyed by collection and id.
type Documents struct {
	mu          sync.RWMutex
	collections map[string]map[string]storedDocument
	seq         int
	nowFn       func() time.Time
	newID       func() string
}

// DocumentsOption customises a Documents store.
type DocumentsOption func(*Documents)

// WithNow sets the server clock used for created/updated timestamps.
func WithNow(fn func() time.Time) DocumentsOption {
	return func(d *Documents) {
		if fn != nil {
			d.nowFn = fn
		}
	}
}

// WithIDGenerator replaces the document id generator.
func WithIDGenerator(fn func() string) DocumentsOption {
	return func(d *Documents) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// NewDocuments constructs an empty document store.
func NewDocuments(opts ...DocumentsOption) *Documents {
	d := &Documents{
		collections: make(map[string]map[string]storedDocument),
		nowFn:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seed inserts a document with a caller-chosen id, overwriting any existing one.
func (d *Documents) Seed(collection, id string, data any) error {
	raw, err := encodeObject(data)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.nowFn()
	d.put(collection, domain.Document{ID: id, Data: raw, CreatedAt: now, UpdatedAt: now})
	return nil
}

// FindOne returns the first document, in creation order, whose field equals value.
func (d *Documents) FindOne(ctx context.Context, collection, field string, value any) (domain.Document, bool, error) {
	docs, err := d.FetchAll(ctx, collection, domain.Filter{field: value})
	if err != nil {
		return domain.Document{}, false, err
	}
	if len(docs) == 0 {
		return domain.Document{}, false, nil
	}
	return docs[0], true, nil
}

// FetchAll returns every document in collection matching filter, in creation order.
func (d *Documents) FetchAll(ctx context.Context, collection string, filter domain.Filter) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	stored := make([]storedDocument, 0, len(d.collections[collection]))
	for _, doc := range d.collections[collection] {
		stored = append(stored, doc)
	}
	d.mu.RUnlock()
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	out := make([]domain.Document, 0, len(stored))
	for _, s := range stored {
		ok, err := matches(s.doc.Data, want)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, s.doc.ID, err)
		}
		if ok {
			out = append(out, cloneDocument(s.doc))
		}
	}
	return out, nil
}

// Create stores data under a new id and stamps server timestamps.
func (d *Documents) Create(ctx context.Context, collection string, data any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := encodeObject(data)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID()
	now := d.nowFn()
	d.put(collection, domain.Document{ID: id, Data: raw, CreatedAt: now, UpdatedAt: now})
	return id, nil
}

// Update merges fields into the top level of an existing document.
func (d *Documents) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrDocumentNotFound)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing.doc.Data, &merged); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", k, err)
		}
		merged[k] = raw
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	existing.doc.Data = raw
	existing.doc.UpdatedAt = d.nowFn()
	d.collections[collection][id] = existing
	return nil
}

// Len reports how many documents collection holds.
func (d *Documents) Len(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}

func (d *Documents) put(collection string, doc domain.Document) {
	bucket, ok := d.collections[collection]
	if !ok {
		bucket = make(map[string]storedDocument)
		d.collections[collection] = bucket
	}
	seq := d.seq
	if prev, exists := bucket[doc.ID]; exists {
		seq = prev.seq
	} else {
		d.seq++
	}
	bucket[doc.ID] = storedDocument{doc: doc, seq: seq}
}

func encodeObject(data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, fmt.Errorf("document must be a JSON object")
	}
	return raw, nil
}

func normalizeFilter(filter domain.Filter) (map[string]any, error) {
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", k, err)
		}
		var norm any
		if err := json.Unmarshal(raw, &norm); err != nil {
			return nil, err
		}
		out[k] = norm
	}
	return out, nil
}

func matches(data json.RawMessage, want map[string]any) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, err
	}
	for path, expected := range want {
		got, ok := lookup(doc, path)
		if !ok || !reflect.DeepEqual(got, expected) {
			return false, nil
		}
	}
	return true, nil
}

// lookup resolves a dotted field path such as "fisherProfile.nickname".
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func cloneDocument(doc domain.Document) domain.Document {
	cp := doc
	cp.Data = append(json.RawMessage(nil), doc.Data...)
	return cp
}
