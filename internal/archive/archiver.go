// Package archive dumps raw listing pages to a blob store for diagnostics.
// Archival is best effort: failures are logged and never reach the crawl.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
)

const contentType = "application/json"

// Archiver implements crawler.PageArchiver over a crawler.BlobStore.
type Archiver struct {
	store   crawler.BlobStore
	placeID int64
	logger  *zap.Logger
}

// New returns an Archiver writing below <placeID>/<runID>/.
func New(store crawler.BlobStore, placeID int64, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, placeID: placeID, logger: logger}
}

// PagePath returns the object path for one archived page.
func (a *Archiver) PagePath(runID string, pageNumber int) string {
	return fmt.Sprintf("%s/%s/page-%04d.json", strconv.FormatInt(a.placeID, 10), runID, pageNumber)
}

// ArchivePage stores body verbatim. Errors are logged and swallowed.
func (a *Archiver) ArchivePage(ctx context.Context, runID string, pageNumber int, body []byte) {
	if a == nil || a.store == nil {
		return
	}
	path := a.PagePath(runID, pageNumber)
	uri, err := a.store.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("archive page failed",
			zap.String("run_id", runID),
			zap.Int("page", pageNumber),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("page archived", zap.String("run_id", runID), zap.Int("page", pageNumber), zap.String("uri", uri))
}
