// Package transform turns raw Wheelhouse listing records into the canonical
// columnar layout written to each partition.
package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/pkg/schema"
)

// TransformError marks a failure converting one entity's records. The ETL
// logs it and moves on to the next entity.
type TransformError struct {
	EntityID string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform listing %s: %v", e.EntityID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Options configures a Transformer.
type Options struct {
	// Source is stamped into etl_source. Defaults to schema.DefaultSource.
	Source string
	// Now stamps etl_processed_at. Defaults to time.Now.
	Now  func() time.Time
	Pool memory.Allocator
}

type Transformer struct {
	source string
	now    func() time.Time
	pool   memory.Allocator
	logger *zap.Logger
}

func NewTransformer(opts Options, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Source == "" {
		opts.Source = schema.DefaultSource
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pool == nil {
		opts.Pool = memory.DefaultAllocator
	}
	return &Transformer{source: opts.Source, now: opts.Now, pool: opts.Pool, logger: logger}
}

// Transform converts records into one Arrow record. The canonical columns
// are always present, so an empty input yields a zero-row record with the
// full column set. md is attached to the schema and may be nil.
// The caller owns the returned record and must Release it.
func (t *Transformer) Transform(records []schema.Record, md *arrow.Metadata) (arrow.Record, error) {
	rows := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		rows[i] = renameFields(rec)
	}

	if len(rows) > 0 {
		for _, col := range schema.RequiredColumns {
			if !anyHas(rows, col) {
				t.logger.Warn("Missing required column, filling with nulls", zap.String("column", col))
			}
		}
	}

	extra, err := passThroughFields(rows)
	if err != nil {
		return nil, err
	}
	sch := schema.GetListingSchema(extra, md)

	rb := array.NewRecordBuilder(t.pool, sch)
	defer rb.Release()

	for i, field := range sch.Fields() {
		b := rb.Field(i)
		switch field.Name {
		case schema.ColProcessedAt:
			ts := arrow.Timestamp(t.now().UTC().UnixMicro())
			tb := b.(*array.TimestampBuilder)
			for range rows {
				tb.Append(ts)
			}
			continue
		case schema.ColSource:
			sb := b.(*array.StringBuilder)
			for range rows {
				sb.Append(t.source)
			}
			continue
		}
		for _, row := range rows {
			appendValue(b, row[field.Name])
		}
	}

	return rb.NewRecord(), nil
}

// TransformEntity is Transform with failures wrapped in a TransformError.
func (t *Transformer) TransformEntity(entityID string, records []schema.Record, md *arrow.Metadata) (arrow.Record, error) {
	rec, err := t.Transform(records, md)
	if err != nil {
		return nil, &TransformError{EntityID: entityID, Err: err}
	}
	return rec, nil
}

// renameFields maps known source names onto canonical ones. When a record
// already carries the canonical name, it wins and the source field is
// dropped.
func renameFields(rec schema.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, r := range schema.SourceRenames {
		v, ok := out[r.From]
		if !ok {
			continue
		}
		delete(out, r.From)
		if _, exists := out[r.To]; !exists {
			out[r.To] = v
		}
	}
	// listing_id always matches the partition key.
	if id := EntityID(rec); id != schema.UnknownEntity {
		out[schema.ColListingID] = id
	}
	return out
}

func anyHas(rows []map[string]interface{}, col string) bool {
	for _, row := range rows {
		if _, ok := row[col]; ok {
			return true
		}
	}
	return false
}

// passThroughFields returns the unrecognised fields in order of first
// appearance. Keys within one record are taken alphabetically.
func passThroughFields(rows []map[string]interface{}) ([]arrow.Field, error) {
	var names []string
	seen := make(map[string]bool)
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			if !seen[k] && !schema.IsCanonical(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return nil, fmt.Errorf("record has a field with an empty name")
			}
			seen[k] = true
			names = append(names, k)
		}
	}

	fields := make([]arrow.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     schema.ArrowType(inferKind(rows, name)),
			Nullable: true,
		})
	}
	return fields, nil
}

// inferKind picks bool or float when every non-null value fits, string
// otherwise.
func inferKind(rows []map[string]interface{}, name string) schema.Kind {
	allBool, allNum, present := true, true, false
	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		present = true
		if _, isBool := v.(bool); !isBool {
			allBool = false
		}
		switch v.(type) {
		case string, bool, map[string]interface{}, []interface{}:
			allNum = false
		default:
			if _, ok := asFloat(v); !ok {
				allNum = false
			}
		}
	}
	switch {
	case !present:
		return schema.KindString
	case allBool:
		return schema.KindBool
	case allNum:
		return schema.KindFloat
	}
	return schema.KindString
}

func appendValue(b array.Builder, v interface{}) {
	switch bld := b.(type) {
	case *array.StringBuilder:
		if s, ok := asString(v); ok {
			bld.Append(s)
			return
		}
	case *array.Float64Builder:
		if f, ok := asFloat(v); ok {
			bld.Append(f)
			return
		}
	case *array.Int64Builder:
		if i, ok := asInt(v); ok {
			bld.Append(i)
			return
		}
	case *array.BooleanBuilder:
		if bv, ok := asBool(v); ok {
			bld.Append(bv)
			return
		}
	case *array.TimestampBuilder:
		if ts, ok := asTimestamp(v); ok {
			bld.Append(arrow.Timestamp(ts.UnixMicro()))
			return
		}
	case *array.ListBuilder:
		if items, ok := asStringList(v); ok {
			bld.Append(true)
			vb := bld.ValueBuilder().(*array.StringBuilder)
			for _, s := range items {
				vb.Append(s)
			}
			return
		}
	}
	b.AppendNull()
}
