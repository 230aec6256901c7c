// Package evaluation scores the prediction variants on a held-out split of
// the historical daily series.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"path/filepath"

	"dryday/internal/dataset"
	"dryday/internal/features"
	"dryday/internal/models"
	"dryday/internal/types"
)

const (
	// MinRows is the fewest usable rows an evaluation accepts.
	MinRows = 20
	// TestFraction of the usable rows is held out.
	TestFraction = 0.2
	// SplitSeed fixes the train/test partition across runs.
	SplitSeed = 42

	msgModelNotFound = "model not found"
)

// ModelLoader resolves a variant to a loaded model.
type ModelLoader interface {
	Load(ctx context.Context, kind models.Kind) (*models.Variant, error)
}

// Metrics is either a variant's scores or the reason it has none.
type Metrics struct {
	MAE   *float64 `json:"MAE,omitempty"`
	RMSE  *float64 `json:"RMSE,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Result is the evaluation report. Best is nil when no variant scored.
type Result struct {
	Results   map[string]Metrics `json:"results"`
	Best      *string            `json:"best"`
	BestMAE   *float64           `json:"best_mae"`
	TrainSize int                `json:"train_size"`
	TestSize  int                `json:"test_size"`
}

// Service runs evaluations.
type Service struct {
	loader ModelLoader
	logger *slog.Logger
}

// NewService creates an evaluation Service.
func NewService(loader ModelLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: loader, logger: logger}
}

// EvaluateFile loads the CSV at path and evaluates it. A missing file is a
// not-found error and a file without date or rain_mm a bad request.
func (s *Service) EvaluateFile(ctx context.Context, path string) (*Result, error) {
	series, err := dataset.LoadCSV(path)
	if err != nil {
		name := filepath.Base(path)
		switch {
		case errors.Is(err, dataset.ErrNotFound):
			return nil, types.NewAppError(types.ErrCodeNotFoundDataset, name+" not found", err)
		case errors.Is(err, dataset.ErrSchemaMismatch):
			return nil, types.NewAppError(types.ErrCodeValidationDatasetSchema, name+" missing required columns", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStorage, "failed to read dataset", err)
	}
	return s.Evaluate(ctx, series)
}

// Evaluate scores rule, prophet and xgboost, in that order, on the same
// seeded split. A variant that is missing or fails is reported in its
// entry and does not abort the others.
func (s *Service) Evaluate(ctx context.Context, series dataset.Series) (*Result, error) {
	if !series.Has(dataset.ColDate) || !series.Has(dataset.ColRainMM) {
		return nil, types.NewAppError(types.ErrCodeValidationDatasetSchema,
			"dataset missing required columns", dataset.ErrSchemaMismatch)
	}

	rows := features.DailyRows(series)
	if len(rows) < MinRows {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInsufficientData,
			"Not enough data to evaluate", nil,
			map[string]any{"usable_rows": len(rows), "min_rows": MinRows})
	}

	train, test := Split(rows)
	trainMean := meanTarget(train)

	res := &Result{
		Results:   make(map[string]Metrics, len(models.Kinds)),
		TrainSize: len(train),
		TestSize:  len(test),
	}

	for _, kind := range models.Kinds {
		m, err := s.score(ctx, kind, test, trainMean)
		if err != nil {
			return nil, err
		}
		res.Results[string(kind)] = m

		if m.MAE != nil && (res.BestMAE == nil || *m.MAE < *res.BestMAE) {
			name := string(kind)
			res.Best = &name
			res.BestMAE = m.MAE
		}
	}

	s.logger.InfoContext(ctx, "evaluation complete",
		"rows", len(rows),
		"test_rows", len(test),
		"best", deref(res.Best),
	)
	return res, nil
}

// score returns the variant's metrics. Only context cancellation is returned
// as an error; everything else is recorded in Metrics.Error.
func (s *Service) score(ctx context.Context, kind models.Kind, test []features.LabeledRow, trainMean float64) (Metrics, error) {
	v, err := s.loader.Load(ctx, kind)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metrics{}, ctxErr
		}
		if errors.Is(err, models.ErrVariantUnavailable) {
			return Metrics{Error: msgModelNotFound}, nil
		}
		return Metrics{Error: err.Error()}, nil
	}

	preds := make([]float64, len(test))
	for i, row := range test {
		baseline := row.Features.RainLag1
		if math.IsNaN(baseline) {
			baseline = trainMean
		}

		switch kind {
		case models.KindRule:
			preds[i] = v.Rule.Predict(baseline)
		case models.KindProphet:
			preds[i] = v.Prophet.Predict(models.ProphetInput{Date: row.Date, BaselineMM: baseline})
		case models.KindXGBoost:
			p, err := v.XGBoost.Predict(row.Features)
			if err != nil {
				s.logger.WarnContext(ctx, "xgboost evaluation failed", "error", err)
				return Metrics{Error: err.Error()}, nil
			}
			preds[i] = p
		default:
			return Metrics{Error: fmt.Sprintf("unsupported variant %q", kind)}, nil
		}
	}

	mae, rmse := Score(test, preds)
	return Metrics{MAE: &mae, RMSE: &rmse}, nil
}

// Split partitions rows with a fixed-seed permutation. The first
// ceil(TestFraction*n) permuted indices form the test set.
func Split(rows []features.LabeledRow) (train, test []features.LabeledRow) {
	n := len(rows)
	nTest := int(math.Ceil(TestFraction * float64(n)))
	perm := rand.New(rand.NewPCG(SplitSeed, SplitSeed)).Perm(n)

	test = make([]features.LabeledRow, 0, nTest)
	train = make([]features.LabeledRow, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, rows[idx])
		} else {
			train = append(train, rows[idx])
		}
	}
	return train, test
}

// Score returns the mean absolute and root-mean-squared errors of preds
// against the rows' targets.
func Score(rows []features.LabeledRow, preds []float64) (mae, rmse float64) {
	if len(rows) == 0 {
		return math.NaN(), math.NaN()
	}
	var absSum, sqSum float64
	for i, row := range rows {
		d := preds[i] - row.TargetMM
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(rows))
	return absSum / n, math.Sqrt(sqSum / n)
}

func meanTarget(rows []features.LabeledRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += r.TargetMM
	}
	return sum / float64(len(rows))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
