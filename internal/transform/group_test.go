package transform_test

import (
	"encoding/json"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/srg-rm/rm-copilot/internal/transform"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

func TestGroupByEntity(t *testing.T) {
	convey.Convey("Given three records with ids A, A, B", t, func() {
		records := []schema.Record{
			{"id": "A", "price": 100},
			{"id": "A", "price": 110},
			{"id": "B", "price": 90},
		}

		groups := transform.GroupByEntity(records)

		convey.Convey("Then two groups keep first-appearance and record order", func() {
			convey.So(groups, convey.ShouldHaveLength, 2)
			convey.So(groups[0].ID, convey.ShouldEqual, "A")
			convey.So(groups[0].Records, convey.ShouldHaveLength, 2)
			convey.So(groups[0].Records[0]["price"], convey.ShouldEqual, 100)
			convey.So(groups[0].Records[1]["price"], convey.ShouldEqual, 110)
			convey.So(groups[1].ID, convey.ShouldEqual, "B")
			convey.So(groups[1].Records, convey.ShouldHaveLength, 1)
		})
	})

	convey.Convey("Given N records over K ids", t, func() {
		ids := []string{"x", "y", "x", "z", "y", "x", "w"}
		records := make([]schema.Record, len(ids))
		for i, id := range ids {
			records[i] = schema.Record{"id": id, "seq": i}
		}

		groups := transform.GroupByEntity(records)

		convey.Convey("Then there are K groups whose sizes sum to N", func() {
			convey.So(groups, convey.ShouldHaveLength, 4)
			total := 0
			for _, g := range groups {
				total += len(g.Records)
				last := -1
				for _, r := range g.Records {
					convey.So(r["seq"].(int), convey.ShouldBeGreaterThan, last)
					last = r["seq"].(int)
				}
			}
			convey.So(total, convey.ShouldEqual, len(ids))
		})
	})

	convey.Convey("Entity ids fall back from id to listing_id to unknown", t, func() {
		convey.So(transform.EntityID(schema.Record{"id": json.Number("12"), "listing_id": "L"}), convey.ShouldEqual, "12")
		convey.So(transform.EntityID(schema.Record{"listing_id": "L"}), convey.ShouldEqual, "L")
		convey.So(transform.EntityID(schema.Record{"id": nil, "listing_id": "L"}), convey.ShouldEqual, "L")
		convey.So(transform.EntityID(schema.Record{"title": "no id"}), convey.ShouldEqual, schema.UnknownEntity)
	})

	convey.Convey("Empty input yields no groups", t, func() {
		convey.So(transform.GroupByEntity(nil), convey.ShouldBeEmpty)
	})
}
