package core

import (
	"encoding/json"
	"fmt"

	"fishlog/pkg/domain"
)

// Remote record metadata added on upload.
const (
	recordSource  = "mobile_app"
	recordVersion = "1.0"
)

// legacyRecord holds fields that older record shapes carried instead of the
// current ones.
type legacyRecord struct {
	UserID string `json:"userId"`
}

// decodeRecord reads a record in any supported shape. Records written before
// fisherInfo existed are owned by their userId.
func decodeRecord(raw []byte) (domain.CatchRecord, error) {
	var rec domain.CatchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.CatchRecord{}, err
	}
	var legacy legacyRecord
	if err := json.Unmarshal(raw, &legacy); err == nil && rec.FisherInfo.ID == "" {
		rec.FisherInfo.ID = legacy.UserID
	}
	if rec.FishList == nil {
		rec.FishList = []domain.FishEntry{}
	}
	return rec, nil
}

// recordFromDocument adapts a remote document. Server timestamps win over the
// values embedded in the payload.
func recordFromDocument(doc domain.Document) (domain.CatchRecord, error) {
	rec, err := decodeRecord(doc.Data)
	if err != nil {
		return domain.CatchRecord{}, fmt.Errorf("decode record %s: %w", doc.ID, err)
	}
	if rec.ID == "" {
		rec.ID = doc.ID
	}
	if !doc.CreatedAt.IsZero() {
		rec.CreatedAt = domain.InstantOf(doc.CreatedAt)
	}
	if !doc.UpdatedAt.IsZero() {
		rec.UpdatedAt = domain.InstantOf(doc.UpdatedAt)
	}
	return rec, nil
}

// decodeHistory reads the persisted history, skipping entries that cannot be read.
func decodeHistory(raw []json.RawMessage, logger Logger) []domain.CatchRecord {
	out := make([]domain.CatchRecord, 0, len(raw))
	for i, item := range raw {
		rec, err := decodeRecord(item)
		if err != nil {
			logger.Warn("skipping unreadable history entry", "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// remoteRecord formats rec for the record collection: it adds the owner id and
// upload metadata and omits null fields.
func remoteRecord(rec domain.CatchRecord, ownerID string) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	out["userId"] = ownerID
	out["source"] = recordSource
	out["version"] = recordVersion
	return out, nil
}
