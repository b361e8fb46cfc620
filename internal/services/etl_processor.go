package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/internal/domain"
	"github.com/srg-rm/rm-copilot/internal/metadata"
	"github.com/srg-rm/rm-copilot/internal/sink/parquet"
	"github.com/srg-rm/rm-copilot/internal/transform"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

const stateLockTimeout = 10 * time.Second

// ErrInvalidDate is wrapped by InvalidDateError.
var ErrInvalidDate = errors.New("invalid date format")

// InvalidDateError reports a day that is not YYYY-MM-DD.
type InvalidDateError struct {
	Input string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date format: %s. Expected YYYY-MM-DD", e.Input)
}

func (e *InvalidDateError) Unwrap() error { return ErrInvalidDate }

// ParseDay parses a YYYY-MM-DD day as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	day, err := time.Parse(schema.DayLayout, s)
	if err != nil {
		return time.Time{}, &InvalidDateError{Input: s}
	}
	return day, nil
}

// DefaultDay is yesterday in loc.
func DefaultDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ListingSource returns every listing for one day.
type ListingSource interface {
	FetchDay(ctx context.Context, day time.Time, pageSize int, filters map[string]string) ([]schema.Record, error)
}

// ETLObserver receives per-entity failures and finished days.
type ETLObserver interface {
	ObserveEntityFailure()
	ObserveDay(result *domain.DayResult)
}

type ETLOption func(*ETLProcessor)

func WithETLObserver(obs ETLObserver) ETLOption {
	return func(p *ETLProcessor) {
		p.observer = obs
	}
}

// WithETLClock replaces time.Now for processing timestamps.
func WithETLClock(now func() time.Time) ETLOption {
	return func(p *ETLProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRunIDs replaces the uuid run id generator.
func WithRunIDs(next func() string) ETLOption {
	return func(p *ETLProcessor) {
		if next != nil {
			p.nextRunID = next
		}
	}
}

// ETLProcessor runs fetch, group, transform and write for one day or a
// range of days. Days run sequentially.
type ETLProcessor struct {
	cfg         *config.Config
	source      ListingSource
	writer      *parquet.Writer
	transformer *transform.Transformer
	statePath   string
	logger      *zap.Logger
	observer    ETLObserver
	now         func() time.Time
	nextRunID   func() string
}

func NewETLProcessor(cfg *config.Config, source ListingSource, logger *zap.Logger, opts ...ETLOption) (*ETLProcessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		return nil, errors.New("listing source is required")
	}

	writer, err := parquet.NewWriter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create partition writer: %w", err)
	}

	p := &ETLProcessor{
		cfg:       cfg,
		source:    source,
		writer:    writer,
		statePath: cfg.State.Path,
		logger:    logger,
		now:       time.Now,
		nextRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.transformer = transform.NewTransformer(transform.Options{
		Source: cfg.Storage.SourceTag,
		Now:    p.now,
	}, logger)

	if cfg.Wheelhouse.Mock {
		logger.Info("ETL processor initialized in mock mode",
			zap.String("fixture", cfg.Wheelhouse.MockFixturePath))
	} else {
		logger.Info("ETL processor initialized", zap.String("data_path", cfg.Storage.BasePath))
	}
	return p, nil
}

// DefaultDay is yesterday in the configured timezone.
func (p *ETLProcessor) DefaultDay() time.Time {
	return DefaultDay(p.now(), p.cfg.Location())
}

// ProcessDate validates date and processes it.
func (p *ETLProcessor) ProcessDate(ctx context.Context, date string, dryRun bool) (*domain.DayResult, error) {
	day, err := ParseDay(date)
	if err != nil {
		return nil, err
	}
	return p.ProcessDay(ctx, day, dryRun)
}

// ProcessDay fetches every listing for day and writes one partition per
// listing. A fetch failure aborts the day. A failure on one listing is
// logged and the remaining listings are still written.
func (p *ETLProcessor) ProcessDay(ctx context.Context, day time.Time, dryRun bool) (*domain.DayResult, error) {
	date := day.Format(schema.DayLayout)
	runID := p.nextRunID()
	log := p.logger.With(zap.String("date", date), zap.String("run_id", runID))

	log.Info("Starting ETL process", zap.Bool("dry_run", dryRun))

	result := &domain.DayResult{
		Date:      date,
		FilePaths: []string{},
		BasePath:  p.cfg.Storage.BasePath,
		DryRun:    dryRun,
		RunID:     runID,
	}

	listings, err := p.source.FetchDay(ctx, day, p.cfg.Wheelhouse.PageSize, nil)
	if err != nil {
		log.Error("ETL process failed", zap.Error(err))
		return nil, fmt.Errorf("fetch listings for %s: %w", date, err)
	}
	if len(listings) == 0 {
		log.Warn("No listings found")
		p.finishDay(ctx, log, result)
		return result, nil
	}

	groups := transform.GroupByEntity(listings)
	result.TotalListings = len(listings)
	result.UniqueListingIDs = len(groups)

	md := arrow.NewMetadata(
		[]string{"run_id", "partition_date", "source"},
		[]string{runID, date, p.cfg.Storage.SourceTag},
	)

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := p.processEntity(g, day, &md, dryRun)
		if err != nil {
			log.Error("Error processing listing", zap.String("listing_id", g.ID), zap.Error(err))
			result.FailedListings = append(result.FailedListings, g.ID)
			if p.observer != nil {
				p.observer.ObserveEntityFailure()
			}
			continue
		}
		if path == "" {
			continue
		}
		result.FilePaths = append(result.FilePaths, path)
		if dryRun {
			continue
		}
		result.FilesWritten++

		if _, err := os.Stat(path); err != nil {
			log.Error("Failed to verify written file", zap.String("file", path), zap.Error(err))
		}
	}

	if dryRun {
		log.Info("Dry run completed",
			zap.Int("listings", result.TotalListings),
			zap.Int("files", len(result.FilePaths)))
	} else {
		log.Info("ETL completed",
			zap.Int("listings", result.TotalListings),
			zap.Int("files_written", result.FilesWritten),
			zap.Int("failed", len(result.FailedListings)))
	}

	p.finishDay(ctx, log, result)
	return result, nil
}

// processEntity returns the partition path, which is only written when
// dryRun is false. An empty path means there was nothing to write.
func (p *ETLProcessor) processEntity(g transform.Group, day time.Time, md *arrow.Metadata, dryRun bool) (string, error) {
	path, err := p.writer.Path(g.ID, day)
	if err != nil {
		return "", err
	}

	rec, err := p.transformer.TransformEntity(g.ID, g.Records, md)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	if rec.NumRows() == 0 {
		p.logger.Warn("No data to write for listing", zap.String("listing_id", g.ID))
		return "", nil
	}
	if dryRun {
		return path, nil
	}
	return p.writer.WritePartition(rec, g.ID, day)
}

func (p *ETLProcessor) finishDay(ctx context.Context, log *zap.Logger, result *domain.DayResult) {
	if p.observer != nil {
		p.observer.ObserveDay(result)
	}
	if result.DryRun || p.statePath == "" {
		return
	}

	day, err := ParseDay(result.Date)
	if err != nil {
		return
	}
	lockCtx, cancel := context.WithTimeout(ctx, stateLockTimeout)
	defer cancel()
	holder := metadata.LockHolder{RunID: result.RunID, Day: result.Date}
	err = metadata.UpdateRunState(lockCtx, p.statePath, holder, func(state *metadata.RunState) {
		state.Record(day, metadata.DayRecord{
			RunID:          result.RunID,
			Listings:       result.TotalListings,
			FilesWritten:   result.FilesWritten,
			FailedListings: result.FailedListings,
			CompletedAt:    p.now(),
		})
	})
	if err != nil {
		log.Warn("Failed to update run state", zap.String("path", p.statePath), zap.Error(err))
	}
}

// ResumeDay returns the first day an incremental run should process: the
// earliest day with failed listings, else the day after the last recorded
// one.
func (p *ETLProcessor) ResumeDay() (time.Time, bool, error) {
	state, err := metadata.LoadRunState(p.statePath)
	if err != nil {
		return time.Time{}, false, err
	}
	day, ok := state.ResumeDay()
	return day, ok, nil
}

// ProcessDateRange processes every day from start to end inclusive. A
// failed day is recorded in the summary and does not stop the others.
func (p *ETLProcessor) ProcessDateRange(ctx context.Context, start, end string, dryRun bool) (*domain.RangeSummary, error) {
	startDay, err := ParseDay(start)
	if err != nil {
		return nil, err
	}
	endDay, err := ParseDay(end)
	if err != nil {
		return nil, err
	}
	if startDay.After(endDay) {
		return nil, fmt.Errorf("start date %s must be before or equal to end date %s", start, end)
	}

	summary := &domain.RangeSummary{
		DateRange:     fmt.Sprintf("%s to %s", start, end),
		ResultsByDate: make(map[string]domain.DayOutcome),
		Dates:         []string{},
	}

	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		date := day.Format(schema.DayLayout)
		summary.Dates = append(summary.Dates, date)

		result, err := p.ProcessDay(ctx, day, dryRun)
		if err != nil {
			p.logger.Error("Failed to process date", zap.String("date", date), zap.Error(err))
			summary.ResultsByDate[date] = domain.DayOutcome{Error: err.Error()}
			summary.TotalDatesFailed++
			continue
		}

		summary.ResultsByDate[date] = domain.DayOutcome{Result: result}
		summary.TotalDatesProcessed++
		summary.TotalListings += result.TotalListings
		summary.TotalFilesWritten += result.FilesWritten
	}

	p.logger.Info("Date range processing completed",
		zap.String("range", summary.DateRange),
		zap.Int("successful", summary.TotalDatesProcessed),
		zap.Int("failed", summary.TotalDatesFailed))
	return summary, nil
}
