package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/srg-rm/rm-copilot/internal/domain"
)

const fixture = `{"listings": [
  {"id": "L1", "name": "Loft", "price_per_night": 120},
  {"id": "L1", "name": "Loft", "price_per_night": 125},
  {"id": "L2", "name": "Cabin", "price_per_night": 95}
]}`

func writeTestConfig(t *testing.T) (string, string) {
	dir := t.TempDir()
	base := filepath.Join(dir, "data")
	fixturePath := filepath.Join(dir, "listings.json")
	if err := os.WriteFile(fixturePath, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`application:
  log_level: error
wheelhouse:
  mock: true
  mock_fixture_path: %q
storage:
  base_path: %q
schedule:
  timezone: UTC
monitoring:
  metrics:
    enabled: true
    textfile_path: %q
state:
  path: %q
`, fixturePath, base, filepath.Join(dir, "rm_copilot.prom"), filepath.Join(dir, "state.yml"))

	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func TestCLI(t *testing.T) {
	for _, name := range []string{"WHEELHOUSE_MOCK", "DATA_BASE_PATH", "LOG_LEVEL", "METRICS_TEXTFILE"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	convey.Convey("Given a mock-mode configuration", t, func() {
		cfgPath, dir := writeTestConfig(t)
		var stdout, stderr bytes.Buffer

		convey.Convey("The health command on an empty tree is critical", func() {
			code := run([]string{"-config", cfgPath, "health"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitCritical)
			convey.So(stdout.String(), convey.ShouldContainSubstring, "Status: critical")

			_, err := os.Stat(filepath.Join(dir, "data", "health.json"))
			convey.So(err, convey.ShouldBeNil)
		})

		convey.Convey("The etl command writes partitions from the fixture", func() {
			code := run([]string{"-config", cfgPath, "etl", "-date", "2025-01-01"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitOK)

			var result domain.DayResult
			convey.So(json.Unmarshal(stdout.Bytes(), &result), convey.ShouldBeNil)
			convey.So(result.FilesWritten, convey.ShouldEqual, 2)
			convey.So(result.TotalListings, convey.ShouldEqual, 3)

			_, err := os.Stat(filepath.Join(dir, "data", "raw", "L1", "2025-01-01.parquet"))
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("And the metrics textfile is written", func() {
				data, err := os.ReadFile(filepath.Join(dir, "rm_copilot.prom"))
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(data), convey.ShouldContainSubstring, "rmcopilot_etl_partitions_written_total 2")
			})

			convey.Convey("And a summary health report can be printed", func() {
				stdout.Reset()
				out := filepath.Join(dir, "reports", "h.json")
				run([]string{"-config", cfgPath, "health", "-output", out, "-format", "summary"}, &stdout, &stderr)
				convey.So(stdout.String(), convey.ShouldContainSubstring, "Unique Listings: 2")
				_, err := os.Stat(out)
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("The quick health format prints one line and writes no report", func() {
			code := run([]string{"-config", cfgPath, "health", "-format", "quick"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitOK)
			convey.So(stdout.String(), convey.ShouldEqual, "No data files found\n")

			_, err := os.Stat(filepath.Join(dir, "data", "health.json"))
			convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
		})

		convey.Convey("An invalid date fails", func() {
			code := run([]string{"-config", cfgPath, "etl", "-date", "01/02/2025"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitFailure)
		})

		convey.Convey("A range run reports every day", func() {
			code := run([]string{"-config", cfgPath, "etl-range", "-start", "2025-01-01", "-end", "2025-01-02", "-dry-run"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitOK)
			convey.So(stdout.String(), convey.ShouldContainSubstring, `"total_dates_processed": 2`)
		})

		convey.Convey("config-check passes in mock mode", func() {
			code := run([]string{"-config", cfgPath, "config-check"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitOK)
			convey.So(stdout.String(), convey.ShouldContainSubstring, "Configuration OK")
		})

		convey.Convey("Unknown commands print usage", func() {
			code := run([]string{"-config", cfgPath, "bogus"}, &stdout, &stderr)
			convey.So(code, convey.ShouldEqual, exitFailure)
			convey.So(strings.Contains(stderr.String(), "Usage:"), convey.ShouldBeTrue)
		})
	})
}

func TestHealthExitCode(t *testing.T) {
	convey.Convey("Health status maps onto exit codes", t, func() {
		convey.So(healthExitCode(domain.HealthHealthy), convey.ShouldEqual, 0)
		convey.So(healthExitCode(domain.HealthWarning), convey.ShouldEqual, 1)
		convey.So(healthExitCode(domain.HealthCritical), convey.ShouldEqual, 2)
		convey.So(healthExitCode("unknown"), convey.ShouldEqual, 3)
	})
}
