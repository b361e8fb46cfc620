package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/internal/domain"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

// HealthObserver receives every generated report.
type HealthObserver interface {
	ObserveHealth(report *domain.HealthReport)
}

type HealthMonitorOption func(*HealthMonitor)

// WithHealthClock replaces time.Now. "Today" is the clock's date in the
// configured timezone.
func WithHealthClock(now func() time.Time) HealthMonitorOption {
	return func(m *HealthMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

func WithHealthObserver(obs HealthObserver) HealthMonitorOption {
	return func(m *HealthMonitor) {
		m.observer = obs
	}
}

// HealthMonitor scans the partition tree and aggregates it into a
// HealthReport. It never writes to the partition tree.
type HealthMonitor struct {
	cfg      config.Health
	basePath string
	loc      *time.Location
	scanner  *FileScanner
	logger   *zap.Logger
	now      func() time.Time
	observer HealthObserver
}

func NewHealthMonitor(cfg *config.Config, logger *zap.Logger, opts ...HealthMonitorOption) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HealthMonitor{
		cfg:      withHealthDefaults(cfg.Health),
		basePath: cfg.Storage.BasePath,
		loc:      cfg.Location(),
		scanner:  NewFileScanner(logger, cfg.Storage.BasePath),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	logger.Info("Health monitor initialized", zap.String("data_path", m.basePath))
	return m
}

func withHealthDefaults(h config.Health) config.Health {
	if h.StaleAfterDays <= 0 {
		h.StaleAfterDays = 2
	}
	if h.MissingRecentThreshold <= 0 {
		h.MissingRecentThreshold = 3
	}
	if h.RecentWindowDays <= 0 {
		h.RecentWindowDays = 7
	}
	if h.GapReportLimit <= 0 {
		h.GapReportLimit = 10
	}
	if h.SampleSize <= 0 {
		h.SampleSize = 5
	}
	if h.TopN <= 0 {
		h.TopN = 5
	}
	return h
}

func (m *HealthMonitor) today() time.Time {
	y, mo, d := m.now().In(m.loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// ComputeSummary aggregates sizes, rows and the day range. Rows and the row
// average only count files that could be read.
func (m *HealthMonitor) ComputeSummary(files []domain.FileRecord) domain.Summary {
	var s domain.Summary
	if len(files) == 0 {
		return s
	}

	listings := make(map[string]struct{})
	validFiles := 0
	for _, f := range files {
		s.TotalFiles++
		s.TotalSizeBytes += f.SizeBytes
		if f.Readable() {
			s.TotalRows += f.RowCount
			validFiles++
		} else {
			s.UnreadableFiles++
		}
		if f.ListingID != schema.UnknownEntity {
			listings[f.ListingID] = struct{}{}
		}
		if _, err := time.Parse(schema.DayLayout, f.Date); err != nil {
			continue
		}
		date := f.Date
		if s.DateRange.Earliest == nil || date < *s.DateRange.Earliest {
			s.DateRange.Earliest = &date
		}
		if s.DateRange.Latest == nil || date > *s.DateRange.Latest {
			s.DateRange.Latest = &date
		}
	}

	s.UniqueListings = len(listings)
	s.TotalSizeMB = round(float64(s.TotalSizeBytes)/bytesPerMB, 2)
	s.AvgFileSizeBytes = round(float64(s.TotalSizeBytes)/float64(s.TotalFiles), 1)
	s.AvgFileSizeMB = round(s.AvgFileSizeBytes/bytesPerMB, 2)
	if validFiles > 0 {
		s.AvgRowsPerFile = round(float64(s.TotalRows)/float64(validFiles), 1)
	}
	return s
}

// ComputeFreshness reports the latest day, its age, the recent days that
// are missing and the gaps between the earliest and latest day.
func (m *HealthMonitor) ComputeFreshness(files []domain.FileRecord) domain.Freshness {
	fr := domain.Freshness{
		MissingRecentDates: []string{},
		DataGaps:           []string{},
	}

	present := make(map[string]bool)
	for _, f := range files {
		if f.Date == schema.UnknownEntity || f.Date == "" {
			continue
		}
		fr.HasData = true
		if _, err := time.Parse(schema.DayLayout, f.Date); err == nil {
			present[f.Date] = true
		}
	}
	if len(present) == 0 {
		return fr
	}

	days := make([]string, 0, len(present))
	for d := range present {
		days = append(days, d)
	}
	sort.Strings(days)

	earliest, _ := time.Parse(schema.DayLayout, days[0])
	latest, _ := time.Parse(schema.DayLayout, days[len(days)-1])
	today := m.today()

	latestStr := days[len(days)-1]
	age := int(today.Sub(latest).Hours() / 24)
	fr.LatestDate = &latestStr
	fr.DaysSinceLatest = &age

	for i := 1; i <= m.cfg.RecentWindowDays; i++ {
		d := today.AddDate(0, 0, -i).Format(schema.DayLayout)
		if !present[d] {
			fr.MissingRecentDates = append(fr.MissingRecentDates, d)
		}
	}

	for d := earliest; !d.After(latest); d = d.AddDate(0, 0, 1) {
		key := d.Format(schema.DayLayout)
		if present[key] {
			continue
		}
		fr.TotalGaps++
		if len(fr.DataGaps) < m.cfg.GapReportLimit {
			fr.DataGaps = append(fr.DataGaps, key)
		}
	}
	return fr
}

type listingStats struct {
	id     string
	days   map[string]struct{}
	latest string
}

// ComputeCoverage groups files by listing. Ties in both rankings keep the
// order in which listings were first seen.
func (m *HealthMonitor) ComputeCoverage(files []domain.FileRecord) domain.Coverage {
	cov := domain.Coverage{
		MostActiveListings: []domain.ListingDateCount{},
		RecentListings:     []domain.ListingLatestDate{},
	}

	index := make(map[string]*listingStats)
	var ordered []*listingStats
	for _, f := range files {
		if f.ListingID == schema.UnknownEntity {
			continue
		}
		st, ok := index[f.ListingID]
		if !ok {
			st = &listingStats{id: f.ListingID, days: make(map[string]struct{})}
			index[f.ListingID] = st
			ordered = append(ordered, st)
		}
		st.days[f.Date] = struct{}{}
		if f.Date != schema.UnknownEntity && f.Date > st.latest {
			st.latest = f.Date
		}
	}
	if len(ordered) == 0 {
		return cov
	}

	totalDays := 0
	for _, st := range ordered {
		totalDays += len(st.days)
		if len(st.days) == 1 {
			cov.ListingsWithSingleDate++
		}
	}
	cov.TotalListings = len(ordered)
	cov.AvgDatesPerListing = round(float64(totalDays)/float64(len(ordered)), 1)

	byCount := append([]*listingStats(nil), ordered...)
	sort.SliceStable(byCount, func(i, j int) bool {
		return len(byCount[i].days) > len(byCount[j].days)
	})
	for _, st := range byCount[:min(m.cfg.TopN, len(byCount))] {
		cov.MostActiveListings = append(cov.MostActiveListings, domain.ListingDateCount{
			ListingID: st.id,
			DateCount: len(st.days),
		})
	}

	var byRecent []*listingStats
	for _, st := range ordered {
		if st.latest != "" {
			byRecent = append(byRecent, st)
		}
	}
	sort.SliceStable(byRecent, func(i, j int) bool {
		return byRecent[i].latest > byRecent[j].latest
	})
	for _, st := range byRecent[:min(m.cfg.TopN, len(byRecent))] {
		cov.RecentListings = append(cov.RecentListings, domain.ListingLatestDate{
			ListingID:  st.id,
			LatestDate: st.latest,
		})
	}
	return cov
}

// Classify returns the overall status and one issue per triggered rule.
// The first triggered rule decides the status.
func (m *HealthMonitor) Classify(summary domain.Summary, fr domain.Freshness) (domain.HealthStatus, []string) {
	status := domain.HealthHealthy
	issues := []string{}

	escalate := func(s domain.HealthStatus, issue string) {
		if status == domain.HealthHealthy {
			status = s
		}
		issues = append(issues, issue)
	}

	if summary.TotalFiles == 0 {
		escalate(domain.HealthCritical, "No data files found")
	}
	if fr.DaysSinceLatest != nil && *fr.DaysSinceLatest > m.cfg.StaleAfterDays {
		escalate(domain.HealthWarning, fmt.Sprintf("Data is %d days old", *fr.DaysSinceLatest))
	}
	if len(fr.MissingRecentDates) > m.cfg.MissingRecentThreshold {
		escalate(domain.HealthWarning, fmt.Sprintf("Multiple recent dates missing (%d of last %d days)",
			len(fr.MissingRecentDates), m.cfg.RecentWindowDays))
	}
	return status, issues
}

// GenerateReport runs a full scan and builds the report.
func (m *HealthMonitor) GenerateReport(ctx context.Context) (*domain.HealthReport, error) {
	m.logger.Info("Generating health report")

	files, err := m.scanner.ScanFiles(ctx, domain.ScanParams{})
	if err != nil {
		return nil, fmt.Errorf("scan data files: %w", err)
	}

	report := m.BuildReport(files)
	if m.observer != nil {
		m.observer.ObserveHealth(report)
	}

	m.logger.Info("Health report generated",
		zap.String("status", string(report.HealthStatus)),
		zap.Int("issues", len(report.Issues)),
		zap.Int("files", report.Summary.TotalFiles))
	return report, nil
}

// BuildReport aggregates already scanned files.
func (m *HealthMonitor) BuildReport(files []domain.FileRecord) *domain.HealthReport {
	summary := m.ComputeSummary(files)
	freshness := m.ComputeFreshness(files)
	coverage := m.ComputeCoverage(files)
	status, issues := m.Classify(summary, freshness)

	sample := make([]domain.FileRecord, 0, m.cfg.SampleSize)
	sample = append(sample, files[:min(m.cfg.SampleSize, len(files))]...)

	return &domain.HealthReport{
		HealthStatus: status,
		Issues:       issues,
		SystemInfo: domain.SystemInfo{
			DataBasePath:      m.basePath,
			ScanPath:          m.scanner.Root(),
			ReportGeneratedAt: m.now().UTC(),
			RuntimeVersion:    runtime.Version(),
		},
		Summary:         summary,
		DataFreshness:   freshness,
		ListingCoverage: coverage,
		FilesSample:     sample,
	}
}

// WriteReport writes the report as indented JSON, creating parent
// directories.
func (m *HealthMonitor) WriteReport(report *domain.HealthReport, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	m.logger.Info("Health report written", zap.String("path", path))
	return nil
}

// QuickStatus returns a one-line status without building the full report.
func (m *HealthMonitor) QuickStatus(ctx context.Context) string {
	files, err := m.scanner.ScanFiles(ctx, domain.ScanParams{})
	if err != nil {
		return fmt.Sprintf("Health check failed: %v", err)
	}

	summary := m.ComputeSummary(files)
	fr := m.ComputeFreshness(files)
	switch {
	case summary.TotalFiles == 0:
		return "No data files found"
	case fr.DaysSinceLatest != nil && *fr.DaysSinceLatest > m.cfg.StaleAfterDays:
		return fmt.Sprintf("Data is %d days old", *fr.DaysSinceLatest)
	}
	latest := "none"
	if fr.LatestDate != nil {
		latest = *fr.LatestDate
	}
	return fmt.Sprintf("Healthy (%d files, latest: %s)", summary.TotalFiles, latest)
}

// FormatSummary renders the report for a terminal.
func FormatSummary(report *domain.HealthReport) string {
	var b strings.Builder
	s := report.Summary
	fr := report.DataFreshness
	cov := report.ListingCoverage

	fmt.Fprintf(&b, "Health Status: %s\n\n", strings.ToUpper(string(report.HealthStatus)))

	if len(report.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
		b.WriteString("\n")
	}

	b.WriteString("Data Summary:\n")
	fmt.Fprintf(&b, "  Total Files: %s\n", thousands(int64(s.TotalFiles)))
	fmt.Fprintf(&b, "  Total Size: %.1f MB\n", s.TotalSizeMB)
	fmt.Fprintf(&b, "  Total Rows: %s\n", thousands(s.TotalRows))
	fmt.Fprintf(&b, "  Unique Listings: %s\n", thousands(int64(s.UniqueListings)))
	if s.UnreadableFiles > 0 {
		fmt.Fprintf(&b, "  Unreadable Files: %s\n", thousands(int64(s.UnreadableFiles)))
	}
	if s.DateRange.Earliest != nil && s.DateRange.Latest != nil {
		fmt.Fprintf(&b, "  Date Range: %s to %s\n", *s.DateRange.Earliest, *s.DateRange.Latest)
	}
	b.WriteString("\n")

	if fr.HasData && fr.LatestDate != nil && fr.DaysSinceLatest != nil {
		days := *fr.DaysSinceLatest
		b.WriteString("Data Freshness:\n")
		fmt.Fprintf(&b, "  Latest Data: %s\n", *fr.LatestDate)
		switch {
		case days <= 0:
			b.WriteString("  Status: Current (today)\n")
		case days == 1:
			b.WriteString("  Status: Recent (1 day old)\n")
		case days <= 3:
			fmt.Fprintf(&b, "  Status: Acceptable (%d days old)\n", days)
		default:
			fmt.Fprintf(&b, "  Status: Stale (%d days old)\n", days)
		}
		if n := len(fr.MissingRecentDates); n > 0 {
			fmt.Fprintf(&b, "  Missing Recent Dates: %d days\n", n)
		}
		if fr.TotalGaps > 0 {
			fmt.Fprintf(&b, "  Data Gaps: %d missing dates in range\n", fr.TotalGaps)
		}
		b.WriteString("\n")
	}

	b.WriteString("Listing Coverage:\n")
	fmt.Fprintf(&b, "  Total Listings: %s\n", thousands(int64(cov.TotalListings)))
	fmt.Fprintf(&b, "  Avg Dates per Listing: %.1f\n", cov.AvgDatesPerListing)
	if cov.ListingsWithSingleDate > 0 {
		fmt.Fprintf(&b, "  Single-Date Listings: %s\n", thousands(int64(cov.ListingsWithSingleDate)))
	}
	if len(cov.MostActiveListings) > 0 {
		b.WriteString("  Most Active Listings:\n")
		for _, l := range cov.MostActiveListings[:min(3, len(cov.MostActiveListings))] {
			fmt.Fprintf(&b, "    %s: %d dates\n", l.ListingID, l.DateCount)
		}
	}
	b.WriteString("\n")

	if !report.SystemInfo.ReportGeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Report generated: %s\n", report.SystemInfo.ReportGeneratedAt.Format(time.RFC3339))
	}
	return b.String()
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}
