package features

import (
	"math"

	"cloud.google.com/go/civil"

	"dryday/internal/dataset"
)

// LabeledRow is one historical day with its lagged inputs and observed rain.
type LabeledRow struct {
	Date     civil.Date
	Features Vector
	TargetMM float64
}

// DailyRows derives labelled rows from a historical series. Records are
// sorted by date; RainLag1 is the previous record's rain and DayOfYear the
// row's own ordinal. The first record (no lag) is dropped, as is any row
// with an unknown target or lag or an empty cell in a column the series
// carries. Columns the series lacks entirely are reported as NaN.
func DailyRows(s dataset.Series) []LabeledRow {
	sorted := s.Sorted()
	recs := sorted.Records

	hasTemp := sorted.Has(dataset.ColTemp)
	hasHum := sorted.Has(dataset.ColHumidity)
	hasWind := sorted.Has(dataset.ColWindSpeed)

	rows := make([]LabeledRow, 0, max(len(recs)-1, 0))
	for i := 1; i < len(recs); i++ {
		cur, prev := recs[i], recs[i-1]
		if cur.RainMM == nil || prev.RainMM == nil {
			continue
		}

		temp, ok := optional(cur.Temp, hasTemp)
		if !ok {
			continue
		}
		hum, ok := optional(cur.Humidity, hasHum)
		if !ok {
			continue
		}
		wind, ok := optional(cur.WindSpeed, hasWind)
		if !ok {
			continue
		}

		rows = append(rows, LabeledRow{
			Date: cur.Date,
			Features: Vector{
				TempMean:     temp,
				HumidityMean: hum,
				WindMean:     wind,
				RainLag1:     *prev.RainMM,
				DayOfYear:    float64(DayOfYear(cur.Date)),
			},
			TargetMM: *cur.RainMM,
		})
	}
	return rows
}

// optional resolves a cell of an optional column: absent columns give NaN,
// empty cells of present columns make the row incomplete.
func optional(v *float64, present bool) (float64, bool) {
	if !present {
		return math.NaN(), true
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
