package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	pageSize    = 1000
	contentType = "application/x-ndjson"
)

// HistorySource pages through a tenant's routing history
type HistorySource interface {
	QueryRoutingHistory(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error)
}

// ErrArchiveExists is returned when the window was already exported and overwrite is off
var ErrArchiveExists = errors.New("archive object already exists")

// Uploader stores an object and returns its URI
type Uploader interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, objectPath string) (bool, error)
}

// Result describes one finished export
type Result struct {
	URI     string `json:"uri"`
	Entries int    `json:"entries"`
}

// Exporter writes routing history as JSON lines to object storage
type Exporter struct {
	source   HistorySource
	uploader Uploader
	prefix   string
}

// NewExporter creates an exporter; objects are written under prefix
func NewExporter(source HistorySource, uploader Uploader, prefix string) *Exporter {
	if prefix == "" {
		prefix = "routing-history"
	}
	return &Exporter{source: source, uploader: uploader, prefix: prefix}
}

// ObjectPath names the archive object for a tenant and window
func (e *Exporter) ObjectPath(tenantID string, from, to time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s.jsonl", e.prefix, tenantID,
		from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"))
}

// Export uploads every history entry of the tenant in [from, to]. An empty window still
// produces an object so consumers can tell the export ran. An existing object for the
// same window is kept unless overwrite is set.
func (e *Exporter) Export(ctx context.Context, tenantID string, from, to time.Time, overwrite bool) (*Result, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("archive window ends before it starts")
	}
	ctx = logger.WithTenant(ctx, tenantID)

	path := e.ObjectPath(tenantID, from, to)
	if !overwrite {
		exists, err := e.uploader.Exists(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing archive: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrArchiveExists, path)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for offset := 0; ; offset += pageSize {
		page, err := e.source.QueryRoutingHistory(ctx, tenantID, domain.HistoryFilter{
			From:   from,
			To:     to,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read routing history: %w", err)
		}
		for _, entry := range page {
			if err := enc.Encode(entry); err != nil {
				return nil, fmt.Errorf("failed to encode history entry %s: %w", entry.ID, err)
			}
		}
		count += len(page)
		if len(page) < pageSize {
			break
		}
	}

	uri, err := e.uploader.Upload(ctx, path, contentType, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to upload history archive: %w", err)
	}

	logger.Info(ctx, "Routing history archived", zap.String("uri", uri), zap.Int("entries", count))
	return &Result{URI: uri, Entries: count}, nil
}
