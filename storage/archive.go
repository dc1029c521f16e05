package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Uploader is the object-store write used by SnapshotArchive.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// SnapshotArchive keeps the raw and reduced HTML of each run so extraction
// problems can be replayed later.
type SnapshotArchive struct {
	uploader Uploader
	prefix   string
	now      func() time.Time
}

func NewSnapshotArchive(uploader Uploader, prefix string) *SnapshotArchive {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchive{uploader: uploader, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// Put uploads both documents and returns the key of the raw one. The reduced
// document sits next to it with a .reduced.html suffix.
func (a *SnapshotArchive) Put(ctx context.Context, sourceID, runID int64, raw, reduced string) (string, error) {
	base := fmt.Sprintf("%s/%s/source-%d/run-%d", a.prefix, a.now().UTC().Format("2006/01/02"), sourceID, runID)

	key := base + ".html"
	if err := a.uploader.Upload(ctx, key, strings.NewReader(raw), "text/html; charset=utf-8"); err != nil {
		return "", fmt.Errorf("archive raw: %w", err)
	}
	if reduced != "" {
		if err := a.uploader.Upload(ctx, base+".reduced.html", strings.NewReader(reduced), "text/html; charset=utf-8"); err != nil {
			return key, fmt.Errorf("archive reduced: %w", err)
		}
	}
	return key, nil
}
