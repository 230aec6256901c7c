package features

import (
	"time"

	"cloud.google.com/go/civil"

	"dryday/internal/weather"
)

// Builder turns forecasts into feature vectors. Offset shifts timestamps
// before they are truncated to a calendar date; the zero Builder uses UTC
// dates.
type Builder struct {
	Offset time.Duration
	// FromLocation makes For use the provider-reported UTC offset of the
	// forecast location whenever Offset is zero.
	FromLocation bool
}

// NewBuilder returns a Builder with the given date offset.
func NewBuilder(offset time.Duration) Builder {
	return Builder{Offset: offset}
}

// For returns the builder to use for a forecast of loc.
func (b Builder) For(loc weather.Location) Builder {
	if b.FromLocation && b.Offset == 0 {
		return Builder{Offset: loc.UTCOffset}
	}
	return b
}

// DateOf is the calendar date a timestamp falls on.
func (b Builder) DateOf(t time.Time) civil.Date {
	return civil.DateOf(t.UTC().Add(b.Offset))
}

// ReferenceDate is "today" for a request made at now.
func (b Builder) ReferenceDate(now time.Time) civil.Date {
	return b.DateOf(now)
}

// Build derives tomorrow's vector relative to ref:
//   - temperature, humidity and wind are means over points dated ref+1
//     (0 when there are none);
//   - RainLag1 is the rain summed over points dated ref, standing in for
//     yesterday's total at prediction time;
//   - DayOfYear is the ordinal of ref+1.
func (b Builder) Build(fc *weather.Forecast, ref civil.Date) Vector {
	tomorrow := ref.AddDays(1)

	var (
		temp, hum, wind, todayRain float64
		n                          int
	)
	if fc != nil {
		for _, p := range fc.Points {
			switch b.DateOf(p.Time) {
			case tomorrow:
				temp += p.TempC
				hum += p.Humidity
				wind += p.WindSpeed
				n++
			case ref:
				todayRain += p.Rain3hMM
			}
		}
	}

	v := Vector{
		RainLag1:  todayRain,
		DayOfYear: float64(DayOfYear(tomorrow)),
	}
	if n > 0 {
		v.TempMean = temp / float64(n)
		v.HumidityMean = hum / float64(n)
		v.WindMean = wind / float64(n)
	}
	return v
}

// TomorrowRain sums the 3-hour rain volumes dated ref+1. It is the naive
// total consumed by the rule variant and the prophet baseline.
func (b Builder) TomorrowRain(fc *weather.Forecast, ref civil.Date) float64 {
	if fc == nil {
		return 0
	}
	tomorrow := ref.AddDays(1)
	var total float64
	for _, p := range fc.Points {
		if b.DateOf(p.Time) == tomorrow {
			total += p.Rain3hMM
		}
	}
	return total
}

// DayOfYear returns the 1-based ordinal of d within its year.
func DayOfYear(d civil.Date) int {
	return d.In(time.UTC).YearDay()
}
