package domain

import "time"

// HealthStatus is the overall classification of a health report.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthReport is the full result of one scan. Field names match the JSON
// artifact consumed by monitoring.
type HealthReport struct {
	HealthStatus    HealthStatus `json:"health_status"`
	Issues          []string     `json:"issues"`
	SystemInfo      SystemInfo   `json:"system_info"`
	Summary         Summary      `json:"summary"`
	DataFreshness   Freshness    `json:"data_freshness"`
	ListingCoverage Coverage     `json:"listing_coverage"`
	FilesSample     []FileRecord `json:"files_sample"`
}

type SystemInfo struct {
	DataBasePath      string    `json:"data_base_path"`
	ScanPath          string    `json:"scan_path"`
	ReportGeneratedAt time.Time `json:"report_generated_at"`
	RuntimeVersion    string    `json:"runtime_version"`
}

type DateRange struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

type Summary struct {
	TotalFiles       int       `json:"total_files"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	TotalSizeMB      float64   `json:"total_size_mb"`
	TotalRows        int64     `json:"total_rows"`
	UniqueListings   int       `json:"unique_listings"`
	UnreadableFiles  int       `json:"unreadable_files"`
	DateRange        DateRange `json:"date_range"`
	AvgFileSizeBytes float64   `json:"avg_file_size_bytes"`
	AvgFileSizeMB    float64   `json:"avg_file_size_mb"`
	AvgRowsPerFile   float64   `json:"avg_rows_per_file"`
}

type Freshness struct {
	HasData            bool     `json:"has_data"`
	LatestDate         *string  `json:"latest_date"`
	DaysSinceLatest    *int     `json:"days_since_latest"`
	MissingRecentDates []string `json:"missing_recent_dates"`
	DataGaps           []string `json:"data_gaps"`
	TotalGaps          int      `json:"total_gaps"`
}

type ListingDateCount struct {
	ListingID string `json:"listing_id"`
	DateCount int    `json:"date_count"`
}

type ListingLatestDate struct {
	ListingID  string `json:"listing_id"`
	LatestDate string `json:"latest_date"`
}

type Coverage struct {
	TotalListings          int                 `json:"total_listings"`
	AvgDatesPerListing     float64             `json:"avg_dates_per_listing"`
	ListingsWithSingleDate int                 `json:"listings_with_single_date"`
	MostActiveListings     []ListingDateCount  `json:"most_active_listings"`
	RecentListings         []ListingLatestDate `json:"recent_listings"`
}
