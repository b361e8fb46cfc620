package transform_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/srg-rm/rm-copilot/internal/transform"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTransformer() (*transform.Transformer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := transform.NewTransformer(transform.Options{
		Now: func() time.Time { return fixedNow },
	}, zap.New(core))
	return tr, logs
}

func column(rec arrow.Record, name string) arrow.Array {
	idx := rec.Schema().FieldIndices(name)
	convey.So(idx, convey.ShouldNotBeEmpty)
	return rec.Column(idx[0])
}

func TestTransformEmpty(t *testing.T) {
	convey.Convey("Given no records", t, func() {
		tr, logs := newTransformer()
		rec, err := tr.Transform(nil, nil)
		convey.So(err, convey.ShouldBeNil)
		defer rec.Release()

		convey.Convey("Then the full canonical column set is present with zero rows", func() {
			convey.So(rec.NumRows(), convey.ShouldEqual, 0)
			var names []string
			for _, f := range rec.Schema().Fields() {
				names = append(names, f.Name)
			}
			convey.So(names, convey.ShouldResemble, schema.ColumnNames())
			convey.So(logs.Len(), convey.ShouldEqual, 0)
		})
	})
}

func TestTransformRecords(t *testing.T) {
	convey.Convey("Given raw API records", t, func() {
		records := []schema.Record{
			{
				"id":              json.Number("101"),
				"name":            "Loft",
				"price_per_night": "125.50",
				"address":         "Austin, TX",
				"bedrooms":        json.Number("2"),
				"room_type":       "entire_home",
				"created_at":      "2024-06-01T10:00:00Z",
				"updated_at":      "not a date",
				"amenities":       []interface{}{"wifi", "pool"},
				"instant_book":    true,
				"market":          "austin",
				"occupancy":       json.Number("0.82"),
			},
			{
				"id":              "102",
				"name":            "Cabin",
				"price_per_night": "call us",
				"bedrooms":        json.Number("1.5"),
				"updated_at":      "2024-06-02",
				"amenities":       "wifi, fireplace",
				"market":          "austin",
				"occupancy":       json.Number("0.5"),
			},
		}
		tr, logs := newTransformer()
		rec, err := tr.Transform(records, nil)
		convey.So(err, convey.ShouldBeNil)
		defer rec.Release()

		convey.So(rec.NumRows(), convey.ShouldEqual, 2)
		convey.So(logs.Len(), convey.ShouldEqual, 0)

		convey.Convey("Then renamed ids are strings", func() {
			ids := column(rec, schema.ColListingID).(*array.String)
			convey.So(ids.Value(0), convey.ShouldEqual, "101")
			convey.So(ids.Value(1), convey.ShouldEqual, "102")
			convey.So(column(rec, schema.ColTitle).(*array.String).Value(0), convey.ShouldEqual, "Loft")
			convey.So(column(rec, schema.ColPropertyType).(*array.String).Value(0), convey.ShouldEqual, "entire_home")
			convey.So(column(rec, schema.ColPropertyType).IsNull(1), convey.ShouldBeTrue)
		})

		convey.Convey("Then non-numeric prices become null", func() {
			prices := column(rec, schema.ColPrice).(*array.Float64)
			convey.So(prices.Value(0), convey.ShouldEqual, 125.5)
			convey.So(prices.IsNull(1), convey.ShouldBeTrue)
		})

		convey.Convey("Then fractional counts become null", func() {
			beds := column(rec, schema.ColBedrooms).(*array.Int64)
			convey.So(beds.Value(0), convey.ShouldEqual, 2)
			convey.So(beds.IsNull(1), convey.ShouldBeTrue)
		})

		convey.Convey("Then unparseable dates become null", func() {
			created := column(rec, schema.ColListingDate).(*array.Timestamp)
			convey.So(created.Value(0), convey.ShouldEqual, arrow.Timestamp(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).UnixMicro()))
			updated := column(rec, schema.ColLastUpdated).(*array.Timestamp)
			convey.So(updated.IsNull(0), convey.ShouldBeTrue)
			convey.So(updated.Value(1), convey.ShouldEqual, arrow.Timestamp(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC).UnixMicro()))
		})

		convey.Convey("Then amenities are lists", func() {
			list := column(rec, schema.ColAmenities).(*array.List)
			values := list.ListValues().(*array.String)
			start, end := list.ValueOffsets(1)
			convey.So(end-start, convey.ShouldEqual, 2)
			convey.So(values.Value(int(start)+1), convey.ShouldEqual, "fireplace")
		})

		convey.Convey("Then unknown fields pass through with inferred types", func() {
			convey.So(column(rec, "market").(*array.String).Value(1), convey.ShouldEqual, "austin")
			convey.So(column(rec, "occupancy").(*array.Float64).Value(0), convey.ShouldEqual, 0.82)
		})

		convey.Convey("Then processing metadata is stamped on every row", func() {
			processed := column(rec, schema.ColProcessedAt).(*array.Timestamp)
			source := column(rec, schema.ColSource).(*array.String)
			for i := 0; i < 2; i++ {
				convey.So(processed.Value(i), convey.ShouldEqual, arrow.Timestamp(fixedNow.UnixMicro()))
				convey.So(source.Value(i), convey.ShouldEqual, schema.DefaultSource)
			}
		})
	})
}

func TestTransformMissingRequired(t *testing.T) {
	convey.Convey("Given records without a title or price", t, func() {
		tr, logs := newTransformer()
		rec, err := tr.Transform([]schema.Record{{"listing_id": "L1"}}, nil)
		convey.So(err, convey.ShouldBeNil)
		defer rec.Release()

		convey.Convey("Then the columns are synthesized as nulls with a warning each", func() {
			convey.So(column(rec, schema.ColTitle).IsNull(0), convey.ShouldBeTrue)
			convey.So(column(rec, schema.ColPrice).IsNull(0), convey.ShouldBeTrue)
			warnings := logs.FilterMessage("Missing required column, filling with nulls")
			convey.So(warnings.Len(), convey.ShouldEqual, 2)
		})
	})

	convey.Convey("A canonical field wins over its raw alias", t, func() {
		tr, _ := newTransformer()
		rec, err := tr.Transform([]schema.Record{{"name": "raw", "title": "canonical", "listing_id": "L1", "price": 1}}, nil)
		convey.So(err, convey.ShouldBeNil)
		defer rec.Release()

		convey.So(column(rec, schema.ColTitle).(*array.String).Value(0), convey.ShouldEqual, "canonical")
		convey.So(rec.Schema().FieldIndices("name"), convey.ShouldBeEmpty)
	})

	convey.Convey("The listing_id column agrees with the partition key", t, func() {
		tr, _ := newTransformer()
		raw := []schema.Record{
			{"id": "A", "listing_id": "B", "title": "t", "price": 1},
			{"id": "", "listing_id": "C", "title": "t", "price": 1},
		}
		rec, err := tr.Transform(raw, nil)
		convey.So(err, convey.ShouldBeNil)
		defer rec.Release()

		ids := column(rec, schema.ColListingID).(*array.String)
		convey.So(ids.Value(0), convey.ShouldEqual, transform.EntityID(raw[0]))
		convey.So(ids.Value(0), convey.ShouldEqual, "A")
		convey.So(ids.Value(1), convey.ShouldEqual, "C")
		convey.So(rec.Schema().FieldIndices("id"), convey.ShouldBeEmpty)
	})
}

func TestTransformEntityError(t *testing.T) {
	convey.Convey("A field with an empty name fails as a TransformError", t, func() {
		tr, _ := newTransformer()
		_, err := tr.TransformEntity("L9", []schema.Record{{"": "x"}}, nil)

		var te *transform.TransformError
		convey.So(err, convey.ShouldHaveSameTypeAs, te)
		convey.So(err.Error(), convey.ShouldContainSubstring, "L9")
	})
}
