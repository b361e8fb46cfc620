package parquet

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

// arrowSchemaKey holds the serialized Arrow schema written by pqarrow.
const arrowSchemaKey = "ARROW:schema"

// FileSummary is what the health scan needs from a partition file.
type FileSummary struct {
	Rows     int64
	Columns  []string
	Metadata map[string]string
}

// ReadFileSummary reads the whole partition at path and reports its row
// count, column names and key/value metadata. Reading every column makes a
// corrupt data page surface here rather than in a later consumer.
func ReadFileSummary(ctx context.Context, path string) (*FileSummary, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	defer tbl.Release()

	summary := &FileSummary{
		Rows:     tbl.NumRows(),
		Columns:  make([]string, 0, tbl.Schema().NumFields()),
		Metadata: make(map[string]string),
	}
	for _, f := range tbl.Schema().Fields() {
		summary.Columns = append(summary.Columns, f.Name)
	}
	for _, kv := range rdr.MetaData().KeyValueMetadata() {
		if kv.Value != nil && kv.Key != arrowSchemaKey {
			summary.Metadata[kv.Key] = *kv.Value
		}
	}
	md := tbl.Schema().Metadata()
	for i, k := range md.Keys() {
		summary.Metadata[k] = md.Values()[i]
	}
	return summary, nil
}
