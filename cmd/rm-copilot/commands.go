package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/domain"
	"github.com/srg-rm/rm-copilot/internal/restapi"
	"github.com/srg-rm/rm-copilot/internal/services"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

func (a *Application) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *Application) newClient() *restapi.WheelhouseClient {
	return restapi.NewWheelhouseClient(a.cfg, a.logger, restapi.WithObserver(a.metrics))
}

// listingSource picks the fixture in mock mode and the API otherwise.
func (a *Application) listingSource() services.ListingSource {
	if a.cfg.Wheelhouse.Mock {
		return services.NewFixtureSource(a.cfg.Wheelhouse.MockFixturePath, a.logger)
	}
	return a.newClient()
}

func (a *Application) newProcessor() (*services.ETLProcessor, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	return services.NewETLProcessor(a.cfg, a.listingSource(), a.logger,
		services.WithETLObserver(a.metrics))
}

func (a *Application) printJSON(v interface{}) {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		a.logger.Error("Failed to encode output", zap.Error(err))
	}
}

func (a *Application) runETL(ctx context.Context, args []string) int {
	fs := a.newFlagSet("etl")
	date := fs.String("date", "", "Day to process as YYYY-MM-DD (default: yesterday)")
	dryRun := fs.Bool("dry-run", false, "Report the partitions without writing them")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	processor, err := a.newProcessor()
	if err != nil {
		a.logger.Error("Failed to create ETL processor", zap.Error(err))
		return exitFailure
	}

	day := processor.DefaultDay()
	if *date != "" {
		if day, err = services.ParseDay(*date); err != nil {
			a.logger.Error("Invalid date", zap.String("date", *date), zap.Error(err))
			return exitFailure
		}
	}

	result, err := processor.ProcessDay(ctx, day, *dryRun)
	if err != nil {
		a.logger.Error("ETL failed", zap.String("date", day.Format(schema.DayLayout)), zap.Error(err))
		return exitFailure
	}

	a.printJSON(result)
	return exitOK
}

func (a *Application) runETLRange(ctx context.Context, args []string) int {
	fs := a.newFlagSet("etl-range")
	start := fs.String("start", "", "First day to process, YYYY-MM-DD")
	end := fs.String("end", "", "Last day to process, YYYY-MM-DD (default: yesterday)")
	sinceLast := fs.Bool("since-last", false, "Start at the first day with failed listings, else after the last recorded day")
	dryRun := fs.Bool("dry-run", false, "Report the partitions without writing them")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	processor, err := a.newProcessor()
	if err != nil {
		a.logger.Error("Failed to create ETL processor", zap.Error(err))
		return exitFailure
	}

	if *end == "" {
		*end = processor.DefaultDay().Format(schema.DayLayout)
	}
	if *sinceLast {
		next, ok, err := processor.ResumeDay()
		if err != nil {
			a.logger.Error("Failed to read run state", zap.Error(err))
			return exitFailure
		}
		if ok {
			*start = next.Format(schema.DayLayout)
		}
	}
	if *start == "" {
		a.logger.Error("A start day is required (use -start or -since-last with a recorded run)")
		return exitFailure
	}
	if *sinceLast && *start > *end {
		a.logger.Info("Already up to date", zap.String("next", *start), zap.String("end", *end))
		return exitOK
	}

	summary, err := processor.ProcessDateRange(ctx, *start, *end, *dryRun)
	if summary != nil {
		a.printJSON(summary)
	}
	if err != nil {
		if isInterrupted(err) {
			a.logger.Warn("Date range interrupted", zap.Error(err))
		} else {
			a.logger.Error("Date range failed", zap.Error(err))
		}
		return exitFailure
	}
	if summary.TotalDatesFailed > 0 {
		return exitFailure
	}
	return exitOK
}

func (a *Application) runHealth(ctx context.Context, args []string) int {
	fs := a.newFlagSet("health")
	output := fs.String("output", a.cfg.HealthReportPath(), "Path of the JSON report")
	format := fs.String("format", "json", "Terminal output: json, summary or quick (one line, no report file)")
	if err := fs.Parse(args); err != nil {
		return exitUnexpected
	}
	if *format != "json" && *format != "summary" && *format != "quick" {
		a.logger.Error("Unsupported format", zap.String("format", *format))
		return exitUnexpected
	}

	monitor := services.NewHealthMonitor(a.cfg, a.logger, services.WithHealthObserver(a.metrics))
	if *format == "quick" {
		fmt.Fprintln(a.stdout, monitor.QuickStatus(ctx))
		return exitOK
	}
	report, err := monitor.GenerateReport(ctx)
	if err != nil {
		a.logger.Error("Health check failed", zap.Error(err))
		fmt.Fprintf(a.stderr, "Health check failed: %v\n", err)
		return exitUnexpected
	}
	if err := monitor.WriteReport(report, *output); err != nil {
		a.logger.Error("Failed to write health report", zap.Error(err))
		return exitUnexpected
	}

	if *format == "summary" {
		fmt.Fprint(a.stdout, services.FormatSummary(report))
	} else {
		fmt.Fprintf(a.stdout, "Health report generated: %s\n", *output)
		fmt.Fprintf(a.stdout, "Status: %s\n", report.HealthStatus)
		fmt.Fprintf(a.stdout, "Files: %d\n", report.Summary.TotalFiles)
		fmt.Fprintf(a.stdout, "Size: %.1f MB\n", report.Summary.TotalSizeMB)
		for _, issue := range report.Issues {
			fmt.Fprintf(a.stdout, "  - %s\n", issue)
		}
	}

	return healthExitCode(report.HealthStatus)
}

func healthExitCode(status domain.HealthStatus) int {
	switch status {
	case domain.HealthHealthy:
		return exitOK
	case domain.HealthWarning:
		return exitFailure
	case domain.HealthCritical:
		return exitCritical
	}
	return exitUnexpected
}

func (a *Application) runConfigCheck(ctx context.Context, args []string) int {
	fs := a.newFlagSet("config-check")
	skipAPI := fs.Bool("skip-api", false, "Do not call the health endpoint")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	ok := true
	fmt.Fprintf(a.stdout, "Base URL: %s\n", a.cfg.Wheelhouse.BaseURL)
	fmt.Fprintf(a.stdout, "Data path: %s\n", a.cfg.Storage.BasePath)
	fmt.Fprintf(a.stdout, "Timezone: %s\n", a.cfg.Location())
	fmt.Fprintf(a.stdout, "Mock mode: %t\n", a.cfg.Wheelhouse.Mock)

	if missing := a.cfg.MissingCredentials(); len(missing) > 0 && !a.cfg.Wheelhouse.Mock {
		ok = false
		for _, name := range missing {
			fmt.Fprintf(a.stdout, "Missing: %s\n", name)
		}
	}

	if _, err := os.Stat(a.cfg.Storage.BasePath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(a.stdout, "Data directory does not exist yet: %s\n", a.cfg.Storage.BasePath)
	}

	if !*skipAPI && !a.cfg.Wheelhouse.Mock && ok {
		if a.newClient().HealthCheck(ctx) {
			fmt.Fprintln(a.stdout, "API: reachable")
		} else {
			fmt.Fprintln(a.stdout, "API: unreachable")
			ok = false
		}
	}

	if !ok {
		return exitFailure
	}
	fmt.Fprintln(a.stdout, "Configuration OK")
	return exitOK
}
