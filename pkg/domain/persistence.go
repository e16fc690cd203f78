package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Remote collection names.
const (
	CollectionUsers          = "users"
	CollectionFishingRecords = "fishingRecords"
	CollectionFishingSpots   = "fishingSpots"
	CollectionFishSpecies    = "fish_species"
)

// LocalStore is durable device-local key/value storage. Values are opaque
// serialized payloads; schema is owned by callers. Get reports absence with
// ok=false and a nil error.
type LocalStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// SetMany writes all entries atomically: either every key is updated or none is.
	SetMany(ctx context.Context, entries map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
}

// Document is a record read from a remote collection. CreatedAt and UpdatedAt
// are assigned by the server.
type Document struct {
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals Data into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Filter selects documents whose top-level fields equal the given values.
type Filter map[string]any

// DocumentStore is the remote document database.
type DocumentStore interface {
	FindOne(ctx context.Context, collection, field string, value any) (Document, bool, error)
	FetchAll(ctx context.Context, collection string, filter Filter) ([]Document, error)
	// Create stores data as a new document and returns its server-assigned id.
	Create(ctx context.Context, collection string, data any) (string, error)
	// Update merges fields into an existing document. Missing documents yield ErrDocumentNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
}
