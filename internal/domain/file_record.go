package domain

import "time"

// FileRecord describes one partition file found by the health scan. It is
// rebuilt on every scan and never persisted on its own.
type FileRecord struct {
	Path        string    `json:"file_path"` // relative to the data base path
	ListingID   string    `json:"listing_id"`
	Date        string    `json:"date"` // "YYYY-MM-DD", taken from the filename
	SizeBytes   int64     `json:"size_bytes"`
	SizeMB      float64   `json:"size_mb"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	RowCount    int64     `json:"row_count"` // -1 when the file could not be read
	ColumnCount int       `json:"column_count"`
	Columns     []string  `json:"columns"`
}

// Readable reports whether the file was read successfully during the scan.
func (f FileRecord) Readable() bool {
	return f.RowCount >= 0
}

// ScanParams narrows a health scan.
type ScanParams struct {
	// ListingID limits the scan to one entity directory when set.
	ListingID string `json:"listing_id,omitempty"`
}
