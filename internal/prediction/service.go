// Package prediction answers the laundry question: it resolves the caller's
// location, fetches the forecast, runs the chosen model variant and compares
// the predicted rain against the configured threshold.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"

	"dryday/internal/features"
	"dryday/internal/models"
	"dryday/internal/types"
	"dryday/internal/weather"
)

// ModelLoader resolves a variant to a loaded model.
type ModelLoader interface {
	Load(ctx context.Context, kind models.Kind) (*models.Variant, error)
}

// Recorder observes completed predictions.
type Recorder interface {
	RecordPrediction(ctx context.Context, variant string, safe bool)
}

// Request names a location and a variant. A non-empty City wins over
// coordinates; an empty Variant means rule.
type Request struct {
	City    string
	Lat     *float64
	Lon     *float64
	Variant models.Kind
}

// Result is the answer for one variant.
type Result struct {
	City             string
	Variant          models.Kind
	PredictedRainMM  float64
	SafeToDryOutside bool
	ThresholdMM      float64
	// Date is the day the prediction is for (the reference date plus one).
	Date civil.Date
}

// MarshalJSON keeps the two historical response shapes: the rule variant
// reports the summed forecast as tomorrow_rain_mm, model variants report
// predicted_rain_mm.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"city":                r.City,
		"variant":             r.Variant,
		"safe_to_dry_outside": r.SafeToDryOutside,
		"threshold_mm":        r.ThresholdMM,
		"date":                r.Date.String(),
	}
	if r.Variant == models.KindRule {
		out["tomorrow_rain_mm"] = r.PredictedRainMM
	} else {
		out["predicted_rain_mm"] = r.PredictedRainMM
	}
	return json.Marshal(out)
}

// FeatureReport is the location metadata plus the vector a model would see.
type FeatureReport struct {
	City     string          `json:"city"`
	Country  string          `json:"country"`
	Lat      *float64        `json:"lat"`
	Lon      *float64        `json:"lon"`
	Date     string          `json:"date"`
	Features features.Vector `json:"features"`
}

// Outcome is one variant's entry in a Comparison.
type Outcome struct {
	Variant          models.Kind `json:"variant"`
	PredictedRainMM  *float64    `json:"predicted_rain_mm,omitempty"`
	SafeToDryOutside *bool       `json:"safe_to_dry_outside,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// Comparison runs every variant against a single forecast.
type Comparison struct {
	City        string    `json:"city"`
	Date        string    `json:"date"`
	ThresholdMM float64   `json:"threshold_mm"`
	Results     []Outcome `json:"results"`
}

// Service orchestrates fetch, feature extraction and model dispatch.
type Service struct {
	fetcher     weather.Fetcher
	loader      ModelLoader
	builder     features.Builder
	thresholdMM float64
	clock       types.Clock
	recorder    Recorder
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock that decides "today".
func WithClock(c types.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRecorder sets the prediction observer.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. Predictions at or below thresholdMM are safe.
func NewService(fetcher weather.Fetcher, loader ModelLoader, builder features.Builder, thresholdMM float64, opts ...Option) *Service {
	s := &Service{
		fetcher:     fetcher,
		loader:      loader,
		builder:     builder,
		thresholdMM: thresholdMM,
		clock:       types.RealClock{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ThresholdMM returns the configured decision threshold.
func (s *Service) ThresholdMM() float64 {
	return s.thresholdMM
}

// NormalizeCity trims s and keeps only the part before the first comma,
// so "Paris, FR" becomes "Paris". The discarded suffix is not used for
// disambiguation.
func NormalizeCity(s string) string {
	s = strings.TrimSpace(s)
	if before, _, found := strings.Cut(s, ","); found {
		s = strings.TrimSpace(before)
	}
	return s
}

// ResolveQuery turns a request into a provider query.
func ResolveQuery(req Request) (weather.Query, error) {
	if city := NormalizeCity(req.City); city != "" {
		return weather.Query{City: city}, nil
	}
	if req.Lat != nil && req.Lon != nil {
		if err := types.ValidateCoordinates(*req.Lat, *req.Lon); err != nil {
			return weather.Query{}, err
		}
		return weather.Query{Lat: req.Lat, Lon: req.Lon}, nil
	}
	return weather.Query{}, types.NewAppError(types.ErrCodeValidationLocationRequired, "City or lat/lon required", nil)
}

// Predict answers the laundry question for one variant. The variant is
// loaded before the forecast is fetched so that a missing artifact costs no
// provider call.
func (s *Service) Predict(ctx context.Context, req Request) (*Result, error) {
	kind := req.Variant
	if kind == "" {
		kind = models.KindRule
	}

	q, err := ResolveQuery(req)
	if err != nil {
		return nil, err
	}

	variant, err := s.load(ctx, kind)
	if err != nil {
		return nil, err
	}

	fc, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	b := s.builder.For(fc.Location)
	ref := b.ReferenceDate(s.clock.Now())
	pred, err := s.run(b, variant, fc, ref)
	if err != nil {
		return nil, err
	}

	res := &Result{
		City:             displayCity(fc, q),
		Variant:          kind,
		PredictedRainMM:  pred,
		SafeToDryOutside: pred <= s.thresholdMM,
		ThresholdMM:      s.thresholdMM,
		Date:             ref.AddDays(1),
	}
	if s.recorder != nil {
		s.recorder.RecordPrediction(ctx, string(kind), res.SafeToDryOutside)
	}
	s.logger.DebugContext(ctx, "prediction served",
		"variant", kind,
		"city", res.City,
		"rain_mm", pred,
		"safe", res.SafeToDryOutside,
	)
	return res, nil
}

// Features reports the vector the xgboost variant would consume.
func (s *Service) Features(ctx context.Context, req Request) (*FeatureReport, error) {
	q, err := ResolveQuery(req)
	if err != nil {
		return nil, err
	}
	fc, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	b := s.builder.For(fc.Location)
	ref := b.ReferenceDate(s.clock.Now())
	rep := &FeatureReport{
		City:     displayCity(fc, q),
		Country:  fc.Location.Country,
		Lat:      fc.Location.Lat,
		Lon:      fc.Location.Lon,
		Date:     ref.AddDays(1).String(),
		Features: b.Build(fc, ref),
	}
	if rep.Lat == nil {
		rep.Lat = q.Lat
	}
	if rep.Lon == nil {
		rep.Lon = q.Lon
	}
	return rep, nil
}

// Compare fetches once and runs every variant in order. A variant that
// cannot be loaded or fails to predict is reported in its entry.
func (s *Service) Compare(ctx context.Context, req Request) (*Comparison, error) {
	q, err := ResolveQuery(req)
	if err != nil {
		return nil, err
	}
	fc, err := s.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	b := s.builder.For(fc.Location)
	ref := b.ReferenceDate(s.clock.Now())
	cmp := &Comparison{
		City:        displayCity(fc, q),
		Date:        ref.AddDays(1).String(),
		ThresholdMM: s.thresholdMM,
		Results:     make([]Outcome, 0, len(models.Kinds)),
	}

	for _, kind := range models.Kinds {
		out := Outcome{Variant: kind}
		variant, err := s.load(ctx, kind)
		if err == nil {
			var pred float64
			if pred, err = s.run(b, variant, fc, ref); err == nil {
				safe := pred <= s.thresholdMM
				out.PredictedRainMM = &pred
				out.SafeToDryOutside = &safe
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			out.Error = errorMessage(err)
		}
		cmp.Results = append(cmp.Results, out)
	}
	return cmp, nil
}

func (s *Service) load(ctx context.Context, kind models.Kind) (*models.Variant, error) {
	v, err := s.loader.Load(ctx, kind)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, models.ErrVariantUnavailable) {
		return nil, types.NewAppError(types.ErrCodeNotFoundVariant,
			fmt.Sprintf("%s model not found. Train first.", kind.DisplayName()), err)
	}
	return nil, err
}

// fetch runs the provider call once. Failures that are not already typed
// are reported as a bad request carrying the underlying message.
func (s *Service) fetch(ctx context.Context, q weather.Query) (*weather.Forecast, error) {
	fc, err := s.fetcher.Fetch(ctx, q)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast, err.Error(), err)
	}
	return fc, nil
}

func (s *Service) run(b features.Builder, v *models.Variant, fc *weather.Forecast, ref civil.Date) (float64, error) {
	switch v.Kind {
	case models.KindRule:
		return v.Rule.Predict(b.TomorrowRain(fc, ref)), nil
	case models.KindProphet:
		return v.Prophet.Predict(models.ProphetInput{
			Date:       ref.AddDays(1),
			BaselineMM: b.TomorrowRain(fc, ref),
		}), nil
	case models.KindXGBoost:
		pred, err := v.XGBoost.Predict(b.Build(fc, ref))
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalModel,
				fmt.Sprintf("%s model rejected the input: %v", v.Kind.DisplayName(), err), err)
		}
		return pred, nil
	}
	return 0, types.NewAppError(types.ErrCodeInternalModel, fmt.Sprintf("unsupported variant %q", v.Kind), nil)
}

// displayCity prefers the provider's resolved name.
func displayCity(fc *weather.Forecast, q weather.Query) string {
	if fc != nil && fc.Location.Name != "" {
		return fc.Location.Name
	}
	return q.City
}

func errorMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == types.ErrCodeNotFoundVariant {
			return "model not found"
		}
		return appErr.Message
	}
	return err.Error()
}
