package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/pkg/schema"
)

// FixtureSource serves listings from a local JSON fixture of the form
// {"listings": [...]}. It stands in for the API in mock mode and returns
// the same listings for every day.
type FixtureSource struct {
	path   string
	logger *zap.Logger
}

func NewFixtureSource(path string, logger *zap.Logger) *FixtureSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixtureSource{path: path, logger: logger}
}

func (s *FixtureSource) FetchDay(ctx context.Context, _ time.Time, _ int, _ map[string]string) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		s.logger.Error("Mock data fixture not found", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("mock data fixture not found at %s: %w", s.path, err)
	}
	defer f.Close()

	var doc struct {
		Listings []schema.Record `json:"listings"`
	}
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		s.logger.Error("Failed to load mock data", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("failed to decode fixture %s: %w", s.path, err)
	}

	s.logger.Info("Loaded mock listings from fixture",
		zap.String("path", s.path),
		zap.Int("count", len(doc.Listings)))
	return doc.Listings, nil
}
