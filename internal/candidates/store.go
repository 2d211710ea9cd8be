// Package candidates provides read-only access to element records captured
// by the upstream recording pipeline, and resolves failing locators into
// ranked replacement candidates drawn from those records.
package candidates

import (
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshot is the on-disk format written by the capture pipeline.
type snapshot struct {
	Version int                     `json:"version"`
	Records []schemas.ElementRecord `json:"records"`
}

// FileStore serves element records from a capture snapshot on disk. The
// snapshot is loaded once and indexed by page context; the store never
// writes back.
type FileStore struct {
	log     *zap.Logger
	byPage  map[string][]schemas.ElementRecord
	records int
}

// NewFileStore loads the snapshot at path and indexes it by page context.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture snapshot '%s': %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode capture snapshot '%s': %w", path, err)
	}

	s := &FileStore{
		log:     logger.Named("candidate_store"),
		byPage:  make(map[string][]schemas.ElementRecord),
		records: len(snap.Records),
	}
	for _, rec := range snap.Records {
		s.byPage[rec.PageContext] = append(s.byPage[rec.PageContext], rec)
	}

	s.log.Info("Capture snapshot loaded.",
		zap.String("path", path),
		zap.Int("records", s.records),
		zap.Int("pages", len(s.byPage)))
	return s, nil
}

// RecordsForPage returns every record scoped to the given page context.
// The returned slice is a copy; callers cannot mutate the store through it.
func (s *FileStore) RecordsForPage(_ context.Context, pageContext string) ([]schemas.ElementRecord, error) {
	recs := s.byPage[pageContext]
	out := make([]schemas.ElementRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Len reports the total number of records across all pages.
func (s *FileStore) Len() int { return s.records }
