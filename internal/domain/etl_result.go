package domain

// DayResult is the outcome of processing one calendar day.
type DayResult struct {
	Date             string   `json:"date"`
	TotalListings    int      `json:"total_listings"`
	UniqueListingIDs int      `json:"unique_listing_ids"`
	FilesWritten     int      `json:"files_written"`
	FilePaths        []string `json:"file_paths"`
	FailedListings   []string `json:"failed_listings,omitempty"`
	BasePath         string   `json:"base_path"`
	DryRun           bool     `json:"dry_run"`
	RunID            string   `json:"run_id"`
}

// DayOutcome is one entry of a range run: either a result or the error that
// aborted that day.
type DayOutcome struct {
	Result *DayResult `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Failed reports whether the day aborted.
func (o DayOutcome) Failed() bool {
	return o.Error != ""
}

// RangeSummary aggregates a day-range run.
type RangeSummary struct {
	DateRange           string                `json:"date_range"`
	TotalDatesProcessed int                   `json:"total_dates_processed"`
	TotalDatesFailed    int                   `json:"total_dates_failed"`
	TotalListings       int                   `json:"total_listings"`
	TotalFilesWritten   int                   `json:"total_files_written"`
	ResultsByDate       map[string]DayOutcome `json:"results_by_date"`
	// Dates lists the keys of ResultsByDate in processing order.
	Dates []string `json:"dates"`
}
