// Package parquet stores listing partitions as one parquet file per
// (entity, day) under {base}/raw/{entity_id}/{YYYY-MM-DD}.parquet.
package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	pq "github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

const (
	// RawDir is the partition root under the storage base path.
	RawDir = "raw"
	// Extension is the partition file suffix.
	Extension = ".parquet"

	defaultRowGroupSize = 10000

	partitionFileMode os.FileMode = 0o644
)

// ErrInvalidEntityID is returned for entity ids that cannot be used as a
// single path component.
var ErrInvalidEntityID = errors.New("invalid entity id")

type Writer struct {
	basePath     string
	codec        compress.Compression
	rowGroupSize int64
	pool         memory.Allocator
	logger       *zap.Logger
}

// NewWriter builds a partition writer from the storage config section.
func NewWriter(cfg *config.Config, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	codec, err := parseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	rowGroupSize := cfg.Storage.RowGroupSize
	if rowGroupSize <= 0 {
		rowGroupSize = defaultRowGroupSize
	}
	return &Writer{
		basePath:     cfg.Storage.BasePath,
		codec:        codec,
		rowGroupSize: rowGroupSize,
		pool:         memory.DefaultAllocator,
		logger:       logger,
	}, nil
}

func parseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unsupported compression %q", name)
}

// Root returns the directory that holds every partition.
func (w *Writer) Root() string {
	return filepath.Join(w.basePath, RawDir)
}

// PartitionPath is the deterministic location of the (entityID, day)
// partition under base.
func PartitionPath(base, entityID string, day time.Time) string {
	return filepath.Join(base, RawDir, entityID, day.Format(schema.DayLayout)+Extension)
}

// ValidateEntityID rejects ids that are empty or would leave their
// partition directory.
func ValidateEntityID(entityID string) error {
	switch {
	case strings.TrimSpace(entityID) == "", entityID == ".", entityID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	case strings.ContainsAny(entityID, `/\`+"\x00"), strings.ContainsRune(entityID, filepath.Separator):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidEntityID, entityID)
	}
	return nil
}

// Path returns where the partition for (entityID, day) lives.
func (w *Writer) Path(entityID string, day time.Time) (string, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return "", err
	}
	return PartitionPath(w.basePath, entityID, day), nil
}

// WritePartition writes rec as the (entityID, day) partition and returns
// its path. An existing partition is replaced: the file is written to a
// temp name in the same directory and renamed over the old one.
func (w *Writer) WritePartition(rec arrow.Record, entityID string, day time.Time) (string, error) {
	filePath, err := w.Path(entityID, day)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tmp.Name()

	// CreateTemp opens 0600
	if err := tmp.Chmod(partitionFileMode); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to set partition mode: %w", err)
	}
	if err := w.writeRecord(tmp, rec); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	w.logger.Debug("Wrote partition",
		zap.String("file", filePath),
		zap.String("entity_id", entityID),
		zap.Int64("rows", rec.NumRows()))

	return filePath, nil
}

func (w *Writer) writeRecord(f *os.File, rec arrow.Record) error {
	props := pq.NewWriterProperties(
		pq.WithCompression(w.codec),
		pq.WithDictionaryDefault(true),
		pq.WithMaxRowGroupLength(w.rowGroupSize),
		pq.WithAllocator(w.pool),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(w.pool),
	)

	// The parquet writer closes sinks that implement io.Closer; the file is
	// synced and closed by the caller instead.
	fw, err := pqarrow.NewFileWriter(rec.Schema(), struct{ io.Writer }{f}, props, arrProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
