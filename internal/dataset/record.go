// Package dataset reads, writes and maintains the historical daily weather
// table (one CSV per city) used for evaluation and model training.
package dataset

import (
	"errors"
	"slices"

	"cloud.google.com/go/civil"
)

// Column names. date and rain_mm are mandatory.
const (
	ColDate      = "date"
	ColRainMM    = "rain_mm"
	ColTemp      = "temp"
	ColHumidity  = "humidity"
	ColWindSpeed = "wind_speed"
)

// Columns is the order written by WriteCSV.
var Columns = []string{ColDate, ColRainMM, ColTemp, ColHumidity, ColWindSpeed}

var (
	// ErrSchemaMismatch means a required column is missing or a value cannot
	// be parsed.
	ErrSchemaMismatch = errors.New("dataset schema mismatch")
	// ErrNotFound means the dataset file does not exist.
	ErrNotFound = errors.New("dataset not found")
)

// Record is one calendar day. Nil fields are unknown.
type Record struct {
	Date      civil.Date
	RainMM    *float64
	Temp      *float64
	Humidity  *float64
	WindSpeed *float64
}

// Series is a table of daily records plus the columns its source carried.
type Series struct {
	Records []Record
	Columns []string
}

// Has reports whether the source carried column col.
func (s Series) Has(col string) bool {
	return slices.Contains(s.Columns, col)
}

// Len returns the number of records.
func (s Series) Len() int {
	return len(s.Records)
}

// Sorted returns a copy of the series ordered by date. Records sharing a
// date keep their relative order.
func (s Series) Sorted() Series {
	recs := slices.Clone(s.Records)
	slices.SortStableFunc(recs, func(a, b Record) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		}
		return 0
	})
	return Series{Records: recs, Columns: slices.Clone(s.Columns)}
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
