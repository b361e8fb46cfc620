package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/domain"
	"github.com/srg-rm/rm-copilot/internal/sink/parquet"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

const bytesPerMB = 1024 * 1024

// SummaryReader reads row count and columns from a partition file.
type SummaryReader func(ctx context.Context, path string) (*parquet.FileSummary, error)

// FileScanner discovers partition files under {basePath}/raw. It never
// writes.
type FileScanner struct {
	logger      *zap.Logger
	basePath    string
	readSummary SummaryReader
}

func NewFileScanner(logger *zap.Logger, basePath string) *FileScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileScanner{
		logger:      logger,
		basePath:    basePath,
		readSummary: parquet.ReadFileSummary,
	}
}

// Root returns the scanned partition root.
func (s *FileScanner) Root() string {
	return filepath.Join(s.basePath, parquet.RawDir)
}

// GetAllFiles returns every partition file path under the root in lexical
// order. A missing root yields no files.
func (s *FileScanner) GetAllFiles(ctx context.Context) ([]string, error) {
	var files []string
	root := s.Root()

	if _, err := os.Stat(root); os.IsNotExist(err) {
		s.logger.Warn("Raw data path does not exist", zap.String("path", root))
		return files, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil // Continue walking
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		// temp files from in-flight writes start with a dot
		name := d.Name()
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), parquet.Extension) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to walk data directory", zap.Error(err))
		return nil, err
	}

	return files, nil
}

// ScanFiles builds a FileRecord for every partition file. Files that cannot
// be read are kept with RowCount -1 and no columns.
func (s *FileScanner) ScanFiles(ctx context.Context, params domain.ScanParams) ([]domain.FileRecord, error) {
	paths, err := s.GetAllFiles(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Scanning data files", zap.String("path", s.Root()), zap.Int("files", len(paths)))

	records := make([]domain.FileRecord, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		listingID, date := s.parsePartitionPath(path)
		if params.ListingID != "" && listingID != params.ListingID {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			s.logger.Error("Error processing file", zap.String("file", path), zap.Error(err))
			continue
		}

		rec := domain.FileRecord{
			Path:       s.relativePath(path),
			ListingID:  listingID,
			Date:       date,
			SizeBytes:  info.Size(),
			SizeMB:     round(float64(info.Size())/bytesPerMB, 2),
			CreatedAt:  fileCreatedAt(path, info),
			ModifiedAt: info.ModTime(),
			RowCount:   -1,
			Columns:    []string{},
		}

		summary, err := s.readSummary(ctx, path)
		if err != nil {
			s.logger.Warn("Could not read parquet file", zap.String("file", path), zap.Error(err))
		} else {
			rec.RowCount = summary.Rows
			rec.Columns = summary.Columns
		}
		rec.ColumnCount = len(rec.Columns)

		records = append(records, rec)
	}

	s.logger.Info("Scanned data files", zap.Int("count", len(records)))
	return records, nil
}

// parsePartitionPath extracts (listing id, date) from
// {root}/{listing_id}/{date}.parquet. Files directly under the root have no
// listing directory and get schema.UnknownEntity.
func (s *FileScanner) parsePartitionPath(path string) (string, string) {
	date := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if date == "" {
		date = schema.UnknownEntity
	}

	rel, err := filepath.Rel(s.Root(), path)
	if err != nil {
		return schema.UnknownEntity, date
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == "" {
		return schema.UnknownEntity, date
	}
	return filepath.Base(dir), date
}

func (s *FileScanner) relativePath(path string) string {
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
