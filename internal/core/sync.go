package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"fishlog/internal/blob"
	"fishlog/pkg/domain"
)

// SyncResult is the outcome of uploading one committed record.
type SyncResult struct {
	RecordID string
	RemoteID string
	// FailedPhotos lists the fish entry indexes whose photo stayed local.
	FailedPhotos []int
	Err          error
}

// Synced reports whether the record reached the remote store.
func (r SyncResult) Synced() bool { return r.Err == nil && r.RemoteID != "" }

// CommitHandle tracks the background upload of a committed record.
type CommitHandle struct {
	Record domain.CatchRecord

	done   chan struct{}
	once   sync.Once
	result SyncResult
}

func newCommitHandle(rec domain.CatchRecord) *CommitHandle {
	return &CommitHandle{Record: rec, done: make(chan struct{})}
}

func (h *CommitHandle) finish(res SyncResult) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}

// Done is closed once the upload has finished.
func (h *CommitHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the upload finishes or ctx ends.
func (h *CommitHandle) Wait(ctx context.Context) (SyncResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return SyncResult{RecordID: h.Record.ID}, ctx.Err()
	}
}

// upload sends local photos one at a time, then creates the remote record.
// Photo failures leave the local reference in place and do not stop the record.
func (r *Records) upload(ctx context.Context, identity domain.Identity, rec domain.CatchRecord) SyncResult {
	started := r.opts.clock.Now()
	res := SyncResult{RecordID: rec.ID}
	r.setStatus(SyncSyncing, nil)

	res.Err = r.opts.observe(ctx, opCommitSync, func(ctx context.Context) error {
		remote := rec.Clone()
		for i := range remote.FishList {
			ref := remote.FishList[i].Photo
			if !domain.IsLocalPhotoRef(ref) {
				continue
			}
			url, err := r.uploadPhoto(ctx, identity.ID, rec.ID, i, ref)
			if err != nil {
				r.opts.logger.Warn("photo upload failed, keeping local reference", "record", rec.ID, "fish", i, "error", err)
				res.FailedPhotos = append(res.FailedPhotos, i)
				continue
			}
			remote.FishList[i].Photo = url
			r.replacePhoto(rec.ID, i, url)
		}
		r.persistHistory(ctx)

		doc, err := remoteRecord(remote, rec.FisherInfo.ID)
		if err != nil {
			return fmt.Errorf("format record: %w", err)
		}
		id, err := r.remote.Create(ctx, domain.CollectionFishingRecords, doc)
		if err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		res.RemoteID = id
		return nil
	})

	if res.Err != nil {
		r.opts.logger.Error("record sync failed", "record", rec.ID, "error", res.Err)
		r.mu.Lock()
		r.unsynced[rec.ID] = struct{}{}
		r.mu.Unlock()
		r.setStatus(SyncError, res.Err)
	} else {
		r.opts.logger.Info("record synced", "record", rec.ID, "remote", res.RemoteID, "failed_photos", len(res.FailedPhotos))
		r.setStatus(SyncSuccess, nil)
	}
	r.opts.recordAudit(ctx, opCommitSync, identity.ID, rec.ID, r.opts.clock.Now().Sub(started), res.Err)
	return res
}

// photoKey names the object for a fish photo: it is keyed by the signed-in
// identity, the record and the fish index.
func photoKey(userID, recordID string, index int, unixMilli int64) string {
	return "fishing-records/" + userID + "/" + recordID + "/fish_" + strconv.Itoa(index) + "_" + strconv.FormatInt(unixMilli, 10) + ".jpg"
}

func (r *Records) uploadPhoto(ctx context.Context, userID, recordID string, index int, ref string) (string, error) {
	var url string
	err := r.opts.observe(ctx, opPhotoUpload, func(ctx context.Context) error {
		if r.photos == nil {
			return errors.New("no photo store configured")
		}
		data, err := r.opts.photos.Open(ctx, ref)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		key := photoKey(userID, recordID, index, r.opts.clock.Now().UnixMilli())
		info, err := r.photos.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
			ContentType: "image/jpeg",
			Metadata: map[string]string{
				"record": recordID,
				"fish":   strconv.Itoa(index),
			},
		})
		if err != nil {
			return err
		}
		if info.URL == "" {
			return fmt.Errorf("photo store returned no url for %s", key)
		}
		url = info.URL
		return nil
	})
	return url, err
}

// replacePhoto swaps the photo reference of the canonical record, if it is
// still in the history.
func (r *Records) replacePhoto(recordID string, index int, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.history {
		if r.history[i].ID != recordID {
			continue
		}
		if index < len(r.history[i].FishList) {
			r.history[i].FishList[index].Photo = url
		}
		return
	}
}

// filePhotoSource reads file:// references from the local filesystem.
type filePhotoSource struct{}

func (filePhotoSource) Open(_ context.Context, ref string) ([]byte, error) {
	return os.ReadFile(strings.TrimPrefix(ref, "file://"))
}
