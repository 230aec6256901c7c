package dataset

import (
	"time"

	"cloud.google.com/go/civil"

	"dryday/internal/weather"
)

// Calendar maps forecast timestamps to calendar dates.
type Calendar interface {
	DateOf(t time.Time) civil.Date
}

// Aggregate collapses 3-hour forecast points into one record per date: rain
// is summed, temperature, humidity and wind are averaged. Dates appear in
// the order first seen.
func Aggregate(fc *weather.Forecast, cal Calendar) []Record {
	if fc == nil {
		return nil
	}

	type acc struct {
		rain, temp, hum, wind float64
		n                     int
	}
	var (
		order []civil.Date
		days  = make(map[civil.Date]*acc)
	)
	for _, p := range fc.Points {
		d := cal.DateOf(p.Time)
		a, ok := days[d]
		if !ok {
			a = &acc{}
			days[d] = a
			order = append(order, d)
		}
		a.rain += p.Rain3hMM
		a.temp += p.TempC
		a.hum += p.Humidity
		a.wind += p.WindSpeed
		a.n++
	}

	out := make([]Record, 0, len(order))
	for _, d := range order {
		a := days[d]
		n := float64(a.n)
		out = append(out, Record{
			Date:      d,
			RainMM:    Float(a.rain),
			Temp:      Float(a.temp / n),
			Humidity:  Float(a.hum / n),
			WindSpeed: Float(a.wind / n),
		})
	}
	return out
}

// Merge appends fresh records to existing ones, keeping the first record
// seen for each date (existing data wins), and returns the date-sorted
// result with the number of dates added.
func Merge(existing Series, fresh []Record) (Series, int) {
	seen := make(map[civil.Date]struct{}, len(existing.Records)+len(fresh))
	merged := make([]Record, 0, len(existing.Records)+len(fresh))

	for _, r := range existing.Records {
		if _, dup := seen[r.Date]; dup {
			continue
		}
		seen[r.Date] = struct{}{}
		merged = append(merged, r)
	}

	added := 0
	for _, r := range fresh {
		if _, dup := seen[r.Date]; dup {
			continue
		}
		seen[r.Date] = struct{}{}
		merged = append(merged, r)
		added++
	}

	return Series{Records: merged, Columns: Columns}.Sorted(), added
}
