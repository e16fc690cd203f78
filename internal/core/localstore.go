package core

import (
	"context"
	"encoding/json"

	"fishlog/pkg/domain"
)

// Local store keys. Each key has exactly one writer component.
const (
	keyCurrentUser    = "currentUser"
	keySelectedFisher = "selectedFisher"
	keyHistory        = "fishingHistory"
	keyFisherInfo     = "fisherInfo"
)

// loadJSON decodes key into v. Read or decode failures are logged and reported
// as absent.
func loadJSON(ctx context.Context, store domain.LocalStore, logger Logger, key string, v any) bool {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		logger.Warn("local store read failed", "key", key, "error", err)
		return false
	}
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warn("local store value unreadable", "key", key, "error", err)
		return false
	}
	return true
}

// saveJSON encodes v under key. Failures are logged and returned so callers
// that care can react; most callers continue regardless.
func saveJSON(ctx context.Context, store domain.LocalStore, logger Logger, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Error("local store encode failed", "key", key, "error", err)
		return err
	}
	if err := store.Set(ctx, key, raw); err != nil {
		logger.Warn("local store write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// removeKeys clears keys, logging failures.
func removeKeys(ctx context.Context, store domain.LocalStore, logger Logger, keys ...string) error {
	if err := store.Remove(ctx, keys...); err != nil {
		logger.Warn("local store remove failed", "keys", keys, "error", err)
		return err
	}
	return nil
}
