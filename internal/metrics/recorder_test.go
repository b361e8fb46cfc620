package metrics_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"

	"github.com/srg-rm/rm-copilot/internal/domain"
	"github.com/srg-rm/rm-copilot/internal/metrics"
)

func TestRecorder(t *testing.T) {
	convey.Convey("Given an enabled recorder", t, func() {
		now := time.Unix(1735689600, 0)
		r := metrics.NewRecorder(metrics.WithClock(func() time.Time { return now }))

		convey.Convey("When requests and pages are observed", func() {
			r.ObserveRequest("listings", 200)
			r.ObserveRequest("listings", 200)
			r.ObserveRequest("listings", 429)
			r.ObserveRateLimitRetry()
			r.ObservePage(100)
			r.ObservePage(40)

			convey.Convey("Then the fetch counters add up", func() {
				series, err := testutil.GatherAndCount(r.Registry(), "rmcopilot_wheelhouse_requests_total")
				convey.So(err, convey.ShouldBeNil)
				convey.So(series, convey.ShouldEqual, 2)

				expected := `
# HELP rmcopilot_wheelhouse_listings_fetched_total Listing records fetched
# TYPE rmcopilot_wheelhouse_listings_fetched_total counter
rmcopilot_wheelhouse_listings_fetched_total 140
`
				err = testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "rmcopilot_wheelhouse_listings_fetched_total")
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a day and a health report are observed", func() {
			r.ObserveDay(&domain.DayResult{FilesWritten: 3})
			r.ObserveDay(&domain.DayResult{FilesWritten: 9, DryRun: true})
			days := 4
			r.ObserveHealth(&domain.HealthReport{
				HealthStatus:  domain.HealthWarning,
				Summary:       domain.Summary{TotalFiles: 12},
				DataFreshness: domain.Freshness{DaysSinceLatest: &days, TotalGaps: 2},
			})

			path := filepath.Join(t.TempDir(), "rm.prom")
			convey.So(r.WriteTextfile(path), convey.ShouldBeNil)

			convey.Convey("Then the textfile carries the values", func() {
				data, err := os.ReadFile(path)
				convey.So(err, convey.ShouldBeNil)
				text := string(data)
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_etl_partitions_written_total 3")
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_etl_days_processed_total 2")
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_etl_last_success_timestamp_seconds 1.7356896e+09")
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_health_status 1")
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_health_files 12")
				convey.So(text, convey.ShouldContainSubstring, "rmcopilot_health_days_since_latest 4")
			})
		})
	})

	convey.Convey("Given a recorder with a custom namespace", t, func() {
		r := metrics.NewRecorder(metrics.WithNamespace("wheelhouse_etl"))
		r.ObserveDay(&domain.DayResult{FilesWritten: 2})

		convey.Convey("Then every series carries the namespace", func() {
			series, err := testutil.GatherAndCount(r.Registry(), "wheelhouse_etl_etl_partitions_written_total")
			convey.So(err, convey.ShouldBeNil)
			convey.So(series, convey.ShouldEqual, 1)

			none, err := testutil.GatherAndCount(r.Registry(), "rmcopilot_etl_partitions_written_total")
			convey.So(err, convey.ShouldBeNil)
			convey.So(none, convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given a disabled recorder", t, func() {
		r := metrics.NewRecorder(metrics.WithEnabled(false))
		r.ObserveEntityFailure()

		convey.Convey("Then nothing is written", func() {
			path := filepath.Join(t.TempDir(), "rm.prom")
			convey.So(r.WriteTextfile(path), convey.ShouldBeNil)
			_, err := os.Stat(path)
			convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
		})
	})
}
