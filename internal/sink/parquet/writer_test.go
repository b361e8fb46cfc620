package parquet_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/smartystreets/goconvey/convey"

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/internal/sink/parquet"
	"github.com/srg-rm/rm-copilot/internal/transform"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

var day = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newWriter(t *testing.T, base string) *parquet.Writer {
	cfg := &config.Config{}
	cfg.Storage = config.Storage{BasePath: base, Compression: "snappy", RowGroupSize: 2}
	w, err := parquet.NewWriter(cfg, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w
}

func buildRecord(t *testing.T, records []schema.Record, md *arrow.Metadata) arrow.Record {
	rec, err := transform.NewTransformer(transform.Options{}, nil).Transform(records, md)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return rec
}

func TestWritePartitionRoundTrip(t *testing.T) {
	convey.Convey("Given a partition writer over a temp dir", t, func() {
		base := t.TempDir()
		w := newWriter(t, base)

		convey.Convey("When five rows are written for one entity", func() {
			md := arrow.NewMetadata([]string{"run_id"}, []string{"run-1"})
			rec := buildRecord(t, []schema.Record{
				{"id": "A", "name": "a1", "price": 10},
				{"id": "A", "name": "a2", "price": 11},
				{"id": "A", "name": "a3", "price": 12},
				{"id": "A", "name": "a4", "price": 13},
				{"id": "A", "name": "a5", "price": 14, "market": "austin"},
			}, &md)
			defer rec.Release()

			path, err := w.WritePartition(rec, "A", day)

			convey.Convey("Then the file sits at the deterministic path", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(path, convey.ShouldEqual, filepath.Join(base, "raw", "A", "2025-01-01.parquet"))
				convey.So(path, convey.ShouldEqual, parquet.PartitionPath(base, "A", day))
				info, statErr := os.Stat(path)
				convey.So(statErr, convey.ShouldBeNil)
				convey.So(info.Mode().Perm(), convey.ShouldEqual, os.FileMode(0o644))
			})

			convey.Convey("Then reading it back gives the same rows and columns", func() {
				summary, err := parquet.ReadFileSummary(context.Background(), path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(summary.Rows, convey.ShouldEqual, 5)
				var want []string
				for _, f := range rec.Schema().Fields() {
					want = append(want, f.Name)
				}
				convey.So(summary.Columns, convey.ShouldResemble, want)
				convey.So(summary.Metadata["run_id"], convey.ShouldEqual, "run-1")
			})

			convey.Convey("Then no temp files are left behind", func() {
				entries, err := os.ReadDir(filepath.Dir(path))
				convey.So(err, convey.ShouldBeNil)
				convey.So(entries, convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When the same partition is written twice with different schemas", func() {
			first := buildRecord(t, []schema.Record{
				{"id": "B", "name": "b", "price": 1, "market": "austin"},
				{"id": "B", "name": "b", "price": 2, "market": "austin"},
			}, nil)
			defer first.Release()
			second := buildRecord(t, []schema.Record{
				{"id": "B", "name": "b", "price": 3, "occupancy": 0.5},
			}, nil)
			defer second.Release()

			_, err := w.WritePartition(first, "B", day)
			convey.So(err, convey.ShouldBeNil)
			path, err := w.WritePartition(second, "B", day)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then only the second write survives", func() {
				summary, err := parquet.ReadFileSummary(context.Background(), path)
				convey.So(err, convey.ShouldBeNil)
				convey.So(summary.Rows, convey.ShouldEqual, 1)
				convey.So(summary.Columns, convey.ShouldContain, "occupancy")
				convey.So(summary.Columns, convey.ShouldNotContain, "market")
			})
		})

		convey.Convey("When an empty record is written", func() {
			rec := buildRecord(t, nil, nil)
			defer rec.Release()
			path, err := w.WritePartition(rec, "C", day)
			convey.So(err, convey.ShouldBeNil)

			summary, err := parquet.ReadFileSummary(context.Background(), path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(summary.Rows, convey.ShouldEqual, 0)
			convey.So(summary.Columns, convey.ShouldResemble, schema.ColumnNames())
		})
	})
}

func TestEntityIDValidation(t *testing.T) {
	convey.Convey("Entity ids must be a single path component", t, func() {
		w := newWriter(t, t.TempDir())
		rec := buildRecord(t, nil, nil)
		defer rec.Release()

		for _, id := range []string{"", "..", "a/b", `a\b`, "."} {
			_, err := w.WritePartition(rec, id, day)
			convey.So(errors.Is(err, parquet.ErrInvalidEntityID), convey.ShouldBeTrue)
		}
		convey.So(parquet.ValidateEntityID("listing-42"), convey.ShouldBeNil)
		convey.So(parquet.ValidateEntityID(schema.UnknownEntity), convey.ShouldBeNil)
	})
}

func TestReadFileSummaryCorrupt(t *testing.T) {
	convey.Convey("A file that is not parquet fails to read", t, func() {
		path := filepath.Join(t.TempDir(), "bad.parquet")
		convey.So(os.WriteFile(path, []byte("definitely not parquet"), 0o644), convey.ShouldBeNil)

		_, err := parquet.ReadFileSummary(context.Background(), path)
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestUnsupportedCompression(t *testing.T) {
	convey.Convey("An unknown codec is rejected", t, func() {
		cfg := &config.Config{}
		cfg.Storage.Compression = "lz4"
		_, err := parquet.NewWriter(cfg, nil)
		convey.So(err, convey.ShouldNotBeNil)
	})
}
