package models

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dryday/internal/features"
)

const prophetJSON = `{
  "format": "prophet-components",
  "origin": "2024-01-01",
  "intercept": 2,
  "slope": 0,
  "baseline_weight": 0.5
}`

const xgbJSON = `{
  "format": "xgboost-json-dump",
  "base_score": 0.5,
  "feature_names": ["temp", "humidity", "wind_speed", "rain_lag_1", "dayofyear"],
  "trees": [
    {"nodeid": 0, "split": "rain_lag_1", "split_condition": 2.0, "yes": 1, "no": 2, "missing": 2,
     "children": [{"nodeid": 1, "leaf": 0.1}, {"nodeid": 2, "leaf": 3.0}]},
    {"nodeid": 0, "split": "f0", "split_condition": 10, "yes": 1, "no": 2, "missing": 1,
     "children": [{"nodeid": 1, "leaf": -0.2}, {"nodeid": 2, "leaf": 0.4}]}
  ]
}`

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"rule": KindRule, " Prophet ": KindProphet, "XGBOOST": KindXGBoost} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("lstm")
	assert.Error(t, err)
	assert.False(t, KindRule.NeedsArtifact())
	assert.True(t, KindXGBoost.NeedsArtifact())
}

func TestRuleModel_Identity(t *testing.T) {
	var m RuleModel
	assert.Equal(t, 0.0, m.Predict(0))
	assert.Equal(t, 3.75, m.Predict(3.75))
}

func TestProphetModel_Predict(t *testing.T) {
	v, err := Decode(KindProphet, []byte(prophetJSON))
	require.NoError(t, err)
	m := v.Prophet
	require.NotNil(t, m)
	assert.Equal(t, 365.25, m.PeriodDays, "period defaults to a year")

	got := m.Predict(ProphetInput{Date: date("2024-06-15"), BaselineMM: 4})
	assert.InDelta(t, 3.0, got, 1e-9)

	t.Run("clipped at floor", func(t *testing.T) {
		m := &ProphetModel{Origin: date("2024-01-01"), Intercept: -10, PeriodDays: 365.25}
		assert.Equal(t, 0.0, m.Predict(ProphetInput{Date: date("2024-03-01")}))
	})

	t.Run("fourier terms", func(t *testing.T) {
		m := &ProphetModel{
			Origin:     date("2024-01-01"),
			PeriodDays: 365.25,
			Fourier:    []FourierTerm{{A: 1, B: 0}},
			Floor:      -100,
		}
		assert.InDelta(t, 1.0, m.Predict(ProphetInput{Date: date("2024-01-01")}), 1e-9)
	})
}

func TestXGBoostModel_Predict(t *testing.T) {
	v, err := Decode(KindXGBoost, []byte(xgbJSON))
	require.NoError(t, err)
	m := v.XGBoost
	require.Len(t, m.Trees, 2)

	got, err := m.Predict(features.Vector{TempMean: 12, RainLag1: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)

	got, err = m.Predict(features.Vector{TempMean: 5, RainLag1: math.NaN()})
	require.NoError(t, err)
	assert.InDelta(t, 3.3, got, 1e-9, "NaN follows the missing branch")
}

func TestXGBoostModel_UnknownFeature(t *testing.T) {
	doc := strings.Replace(xgbJSON, `"split": "rain_lag_1"`, `"split": "pressure"`, 1)
	v, err := Decode(KindXGBoost, []byte(doc))
	require.NoError(t, err, "feature names are checked at prediction time")

	_, err = v.XGBoost.Predict(features.Vector{})
	assert.ErrorIs(t, err, ErrFeatureSchema)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		doc  string
	}{
		{"not json", KindXGBoost, "{"},
		{"wrong format", KindXGBoost, prophetJSON},
		{"missing format", KindProphet, `{"origin":"2024-01-01"}`},
		{"empty ensemble", KindXGBoost, `{"format":"xgboost-json-dump","trees":[]}`},
		{"negative period", KindProphet, `{"format":"prophet-components","origin":"2024-01-01","period_days":-1}`},
		{"bad weight", KindProphet, `{"format":"prophet-components","origin":"2024-01-01","baseline_weight":2}`},
		{"no origin", KindProphet, `{"format":"prophet-components"}`},
		{"dangling child", KindXGBoost, `{"format":"xgboost-json-dump","trees":[
			{"nodeid":0,"split":"temp","split_condition":1,"yes":1,"no":7,
			 "children":[{"nodeid":1,"leaf":0},{"nodeid":2,"leaf":1}]}]}`},
		{"rule has no artifact", KindRule, `{"format":"rule"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, []byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidArtifact)
		})
	}
}

func TestDecode_Zstd(t *testing.T) {
	packed, err := Compress([]byte(xgbJSON))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(packed, zstdMagic))

	v, err := Decode(KindXGBoost, packed)
	require.NoError(t, err)
	assert.Equal(t, KindXGBoost, v.Kind)
	assert.Len(t, v.XGBoost.Trees, 2)
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRegistry(dir, map[Kind]string{
		KindProphet: "prophet_model.json",
		KindXGBoost: "xgb_model.json",
	}, nil), dir
}

func TestRegistry_RuleAlwaysAvailable(t *testing.T) {
	reg, _ := newTestRegistry(t)

	v, err := reg.Load(context.Background(), KindRule)
	require.NoError(t, err)
	assert.NotNil(t, v.Rule)
	assert.Empty(t, reg.Path(KindRule))
}

func TestRegistry_MissingArtifactIsUnavailable(t *testing.T) {
	reg, dir := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Load(ctx, KindXGBoost)
	require.ErrorIs(t, err, ErrVariantUnavailable)

	// The failure is not cached.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xgb_model.json"), []byte(xgbJSON), 0o644))
	v, err := reg.Load(ctx, KindXGBoost)
	require.NoError(t, err)
	assert.Equal(t, KindXGBoost, v.Kind)
}

func TestRegistry_CorruptArtifactIsUnavailable(t *testing.T) {
	reg, dir := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prophet_model.json"), []byte(`{"format":"prophet-comp`), 0o644))

	_, err := reg.Load(context.Background(), KindProphet)
	assert.ErrorIs(t, err, ErrVariantUnavailable)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestRegistry_CachesSuccessfulLoads(t *testing.T) {
	reg, dir := newTestRegistry(t)
	path := filepath.Join(dir, "prophet_model.json")
	require.NoError(t, os.WriteFile(path, []byte(prophetJSON), 0o644))

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]*Variant, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := reg.Load(ctx, KindProphet)
			if err == nil {
				results[i] = v
			}
		}()
	}
	wg.Wait()

	first := results[0]
	require.NotNil(t, first)
	for _, v := range results {
		assert.Same(t, first, v)
	}

	// Deleting the file does not evict a loaded variant; Reset does.
	require.NoError(t, os.Remove(path))
	_, err := reg.Load(ctx, KindProphet)
	require.NoError(t, err)

	reg.Reset()
	_, err = reg.Load(ctx, KindProphet)
	assert.ErrorIs(t, err, ErrVariantUnavailable)
}

func TestRegistry_Install(t *testing.T) {
	reg, dir := newTestRegistry(t)
	ctx := context.Background()

	path, err := reg.Install(KindXGBoost, strings.NewReader(xgbJSON), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "xgb_model.json"), path)

	v, err := reg.Load(ctx, KindXGBoost)
	require.NoError(t, err)
	assert.Len(t, v.XGBoost.Trees, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestRegistry_InstallDuringLoadWins(t *testing.T) {
	reg, dir := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prophet_model.json"), []byte(prophetJSON), 0o644))

	newer := strings.Replace(prophetJSON, `"intercept": 2`, `"intercept": 7`, 1)
	reg.afterRead = func(Kind) {
		reg.afterRead = nil
		_, err := reg.Install(KindProphet, strings.NewReader(newer), 1<<20)
		assert.NoError(t, err)
	}

	v, err := reg.Load(ctx, KindProphet)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v.Prophet.Intercept, "in-flight load returns the installed model")

	v, err = reg.Load(ctx, KindProphet)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v.Prophet.Intercept, "stale load must not overwrite the cache")
}

func TestRegistry_InstallRejects(t *testing.T) {
	reg, dir := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Install(KindRule, strings.NewReader("{}"), 1<<20)
	assert.ErrorIs(t, err, ErrNoArtifact)

	_, err = reg.Install(KindXGBoost, strings.NewReader(xgbJSON), 16)
	assert.ErrorIs(t, err, ErrArtifactTooLarge)

	// A valid artifact survives a bad upload.
	_, err = reg.Install(KindXGBoost, strings.NewReader(xgbJSON), 1<<20)
	require.NoError(t, err)
	_, err = reg.Install(KindXGBoost, strings.NewReader(`{"format":"xgboost-json-dump","trees":[]}`), 1<<20)
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	reg.Reset()
	v, err := reg.Load(ctx, KindXGBoost)
	require.NoError(t, err)
	assert.Len(t, v.XGBoost.Trees, 2)

	data, err := os.ReadFile(filepath.Join(dir, "xgb_model.json"))
	require.NoError(t, err)
	assert.JSONEq(t, xgbJSON, string(data))
}

func TestRegistry_Status(t *testing.T) {
	reg, dir := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xgb_model.json"), []byte(xgbJSON), 0o644))

	st := reg.Status(context.Background())
	require.Len(t, st, 3)

	assert.Equal(t, KindRule, st[0].Kind)
	assert.True(t, st[0].Available)
	assert.Equal(t, KindProphet, st[1].Kind)
	assert.False(t, st[1].Available)
	assert.NotEmpty(t, st[1].Error)
	assert.Equal(t, KindXGBoost, st[2].Kind)
	assert.True(t, st[2].Available)
}

func TestRegistry_LoadHonoursContext(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Load(ctx, KindProphet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrVariantUnavailable))
}
