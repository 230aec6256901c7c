// Package features derives the model input vector from a forecast and the
// labelled daily rows used for training and evaluation. Both paths share
// the same calendar rules so that live inputs match what models were fit on.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Model feature names in training order.
const (
	NameTemp      = "temp"
	NameHumidity  = "humidity"
	NameWindSpeed = "wind_speed"
	NameRainLag1  = "rain_lag_1"
	NameDayOfYear = "dayofyear"
)

// Names is the canonical feature order consumed by tabular models.
var Names = []string{NameTemp, NameHumidity, NameWindSpeed, NameRainLag1, NameDayOfYear}

// Vector is the fixed-schema input for tomorrow. A NaN field means the value
// was unknown (historical rows only); Build never produces NaN.
type Vector struct {
	TempMean     float64 `json:"temp_mean_tomorrow"`
	HumidityMean float64 `json:"humidity_mean_tomorrow"`
	WindMean     float64 `json:"wind_speed_mean_tomorrow"`
	RainLag1     float64 `json:"rain_lag_1"`
	DayOfYear    float64 `json:"dayofyear_tomorrow"`
}

// Values returns the fields in Names order.
func (v Vector) Values() []float64 {
	return []float64{v.TempMean, v.HumidityMean, v.WindMean, v.RainLag1, v.DayOfYear}
}

// Value looks a feature up by name. Positional names f0..f4, as written by
// models trained without column names, are accepted too.
func (v Vector) Value(name string) (float64, error) {
	idx := -1
	for i, n := range Names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		if rest, ok := strings.CutPrefix(name, "f"); ok {
			if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < len(Names) {
				idx = i
			}
		}
	}
	if idx < 0 {
		return math.NaN(), fmt.Errorf("feature %q is not in the input schema %v", name, Names)
	}
	return v.Values()[idx], nil
}
