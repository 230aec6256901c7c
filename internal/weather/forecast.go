package weather

import (
	"context"
	"time"
)

// Point is one 3-hour forecast slot.
type Point struct {
	Time      time.Time
	TempC     float64
	Humidity  float64
	WindSpeed float64
	// Rain3hMM is the rain volume for the preceding 3 hours; 0 when the
	// provider omits it.
	Rain3hMM float64
}

// Location is the provider's view of where the forecast is for.
type Location struct {
	Name    string
	Country string
	Lat     *float64
	Lon     *float64
	// UTCOffset is the provider-reported shift from UTC for the location.
	UTCOffset time.Duration
}

// Forecast is a normalized provider response. Points keep provider order.
type Forecast struct {
	Location Location
	Points   []Point
}

// Query selects a forecast by city name or by coordinates. A non-empty City
// takes precedence.
type Query struct {
	City string
	Lat  *float64
	Lon  *float64
}

// Fetcher retrieves forecasts.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (*Forecast, error)
}
