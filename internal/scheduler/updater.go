// Package scheduler runs the background jobs that keep the historical
// datasets current.
//
// The DatasetUpdater fetches the 5-day forecast for each configured city,
// collapses it to daily records and merges them into the city's CSV. Each
// city is processed independently: one city failing never prevents the
// others from being written.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dryday/internal/dataset"
	"dryday/internal/weather"
)

// DefaultConcurrency bounds the number of cities fetched at once.
const DefaultConcurrency = 4

// UpdateInput is the payload accepted by manual and Lambda invocations.
// An empty Cities list means the configured cities.
type UpdateInput struct {
	Cities []string `json:"cities,omitempty"`
}

// CityResult reports what happened to one city.
type CityResult struct {
	City      string `json:"city"`
	Path      string `json:"path,omitempty"`
	RowsAdded int    `json:"rows_added"`
	TotalRows int    `json:"total_rows"`
	Error     string `json:"error,omitempty"`
}

// Summary is the outcome of a single updater run.
type Summary struct {
	RunID     string       `json:"run_id"`
	Started   time.Time    `json:"started_at"`
	Duration  string       `json:"duration"`
	Cities    []CityResult `json:"cities"`
	RowsAdded int          `json:"rows_added"`
	Failed    int          `json:"failed"`
}

// Recorder receives updater metrics. telemetry.Metrics satisfies it.
type Recorder interface {
	RecordRowsAdded(ctx context.Context, city string, rows int)
	RecordUpstreamFailure(ctx context.Context, city string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRowsAdded(context.Context, string, int)  {}
func (nopRecorder) RecordUpstreamFailure(context.Context, string) {}

// ErrAllFailed is returned when no city in a run could be updated.
var ErrAllFailed = errors.New("dataset update failed for every city")

// DatasetUpdater merges fresh forecast-derived records into per-city CSVs.
type DatasetUpdater struct {
	fetcher     weather.Fetcher
	calendar    dataset.Calendar
	calendarFor func(weather.Location) dataset.Calendar
	dataDir     string
	cities      []string
	concurrency int
	recorder    Recorder
	now         func() time.Time
	logger      *slog.Logger
}

// DatasetUpdaterConfig holds the dependencies for creating a DatasetUpdater.
type DatasetUpdaterConfig struct {
	Fetcher  weather.Fetcher
	Calendar dataset.Calendar
	// CalendarFor, when set, picks the calendar per forecast location and
	// takes precedence over Calendar.
	CalendarFor func(weather.Location) dataset.Calendar
	DataDir     string
	Cities      []string
	Concurrency int
	Recorder    Recorder
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewDatasetUpdater creates a DatasetUpdater with the given configuration.
func NewDatasetUpdater(cfg DatasetUpdaterConfig) *DatasetUpdater {
	u := &DatasetUpdater{
		fetcher:     cfg.Fetcher,
		calendar:    cfg.Calendar,
		calendarFor: cfg.CalendarFor,
		dataDir:     cfg.DataDir,
		cities:      cfg.Cities,
		concurrency: cfg.Concurrency,
		recorder:    cfg.Recorder,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
	if u.concurrency < 1 {
		u.concurrency = DefaultConcurrency
	}
	if u.recorder == nil {
		u.recorder = nopRecorder{}
	}
	if u.now == nil {
		u.now = time.Now
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u
}

// DatasetPath returns the CSV path for city under dir.
func DatasetPath(dir, city string) string {
	name := strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(strings.TrimSpace(city))
	return filepath.Join(dir, "daily_"+name+".csv")
}

// Run updates every requested city. Per-city failures are reported in the
// summary; the returned error is non-nil only when the context is cancelled
// or every city failed.
func (u *DatasetUpdater) Run(ctx context.Context, input UpdateInput) (Summary, error) {
	cities := input.Cities
	if len(cities) == 0 {
		cities = u.cities
	}
	cities = u.uniqueCities(cities)

	summary := Summary{
		RunID:   uuid.NewString(),
		Started: u.now().UTC(),
		Cities:  make([]CityResult, len(cities)),
	}
	logger := u.logger.With("run_id", summary.RunID)
	logger.InfoContext(ctx, "dataset update started", "cities", len(cities))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	var mu sync.Mutex
	for i, city := range cities {
		g.Go(func() error {
			res := u.updateCity(gCtx, logger, city)
			mu.Lock()
			summary.Cities[i] = res
			mu.Unlock()
			// City failures stay in the summary so the other cities proceed.
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range summary.Cities {
		summary.RowsAdded += res.RowsAdded
		if res.Error != "" {
			summary.Failed++
		}
	}
	summary.Duration = u.now().UTC().Sub(summary.Started).String()

	logger.InfoContext(ctx, "dataset update finished",
		"rows_added", summary.RowsAdded,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(cities) > 0 && summary.Failed == len(cities) {
		return summary, ErrAllFailed
	}
	return summary, nil
}

// uniqueCities trims names and keeps the first city for each dataset path,
// so no two workers write the same file.
func (u *DatasetUpdater) uniqueCities(cities []string) []string {
	seen := make(map[string]struct{}, len(cities))
	out := make([]string, 0, len(cities))
	for _, city := range cities {
		city = strings.TrimSpace(city)
		key := DatasetPath(u.dataDir, city)
		if _, dup := seen[key]; dup && city != "" {
			u.logger.Warn("duplicate city skipped", "city", city, "path", key)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, city)
	}
	return out
}

func (u *DatasetUpdater) updateCity(ctx context.Context, logger *slog.Logger, city string) CityResult {
	res := CityResult{City: city}
	if strings.TrimSpace(city) == "" {
		res.Error = "empty city name"
		return res
	}
	res.Path = DatasetPath(u.dataDir, city)
	logger = logger.With("city", city)

	fc, err := u.fetcher.Fetch(ctx, weather.Query{City: city})
	if err != nil {
		u.recorder.RecordUpstreamFailure(ctx, city)
		logger.WarnContext(ctx, "forecast fetch failed", "error", err)
		res.Error = err.Error()
		return res
	}

	existing, err := dataset.LoadCSV(res.Path)
	if err != nil && !errors.Is(err, dataset.ErrNotFound) {
		logger.ErrorContext(ctx, "failed to load dataset", "path", res.Path, "error", err)
		res.Error = err.Error()
		return res
	}

	cal := u.calendar
	if u.calendarFor != nil {
		cal = u.calendarFor(fc.Location)
	}
	merged, added := dataset.Merge(existing, dataset.Aggregate(fc, cal))
	if err := dataset.WriteCSV(res.Path, merged); err != nil {
		logger.ErrorContext(ctx, "failed to write dataset", "path", res.Path, "error", err)
		res.Error = fmt.Sprintf("write dataset: %v", err)
		return res
	}

	res.RowsAdded = added
	res.TotalRows = merged.Len()
	u.recorder.RecordRowsAdded(ctx, city, added)
	logger.InfoContext(ctx, "dataset updated", "rows_added", added, "total_rows", res.TotalRows)
	return res
}
