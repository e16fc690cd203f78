package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"fishlog/internal/blob"
	"fishlog/internal/infra/persistence/memory"
	"fishlog/internal/infra/persistence/postgres"
	"fishlog/internal/infra/persistence/sqlite"
	"fishlog/pkg/domain"
)

// LocalDriver identifies the device-local key/value store implementation.
type LocalDriver string

// Local store drivers.
const (
	LocalSQLite LocalDriver = "sqlite" // embedded sqlite file
	LocalMemory LocalDriver = "memory" // in-memory only (tests / ephemeral)
)

// RemoteDriver identifies the remote document store implementation.
type RemoteDriver string

// Remote store drivers.
const (
	RemotePostgres RemoteDriver = "postgres" // PostgreSQL JSONB documents
	RemoteMemory   RemoteDriver = "memory"   // in-memory only (tests / demos)
)

// StorageConfig selects the three storage backends.
type StorageConfig struct {
	LocalDriver  LocalDriver
	SQLitePath   string
	RemoteDriver RemoteDriver
	PostgresDSN  string
	Blob         blob.Config
}

// Stores bundles the opened backends.
type Stores struct {
	Local   domain.LocalStore
	Remote  domain.DocumentStore
	Photos  blob.Store
	closers []io.Closer
}

// Close releases every backend that holds resources.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenLocalStore opens the local store named by cfg (default sqlite).
func OpenLocalStore(cfg StorageConfig) (domain.LocalStore, io.Closer, error) {
	driver := cfg.LocalDriver
	if driver == "" {
		driver = LocalSQLite
	}
	switch driver {
	case LocalMemory:
		return memory.NewKV(), nil, nil
	case LocalSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown local store driver %s", driver)
	}
}

// OpenRemoteStore opens the document store named by cfg (default postgres).
func OpenRemoteStore(cfg StorageConfig) (domain.DocumentStore, io.Closer, error) {
	driver := cfg.RemoteDriver
	if driver == "" {
		driver = RemotePostgres
	}
	switch driver {
	case RemoteMemory:
		return memory.NewDocuments(), nil, nil
	case RemotePostgres:
		s, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote store driver %s", driver)
	}
}

// OpenStores opens the local, remote and photo stores. On failure anything
// already opened is closed.
func OpenStores(ctx context.Context, cfg StorageConfig) (*Stores, error) {
	stores := &Stores{}
	local, closer, err := OpenLocalStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	stores.Local = local
	if closer != nil {
		stores.closers = append(stores.closers, closer)
	}

	remote, closer, err := OpenRemoteStore(cfg)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	stores.Remote = remote
	if closer != nil {
		stores.closers = append(stores.closers, closer)
	}

	photos, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("open photo store: %w", err)
	}
	stores.Photos = photos
	return stores, nil
}
