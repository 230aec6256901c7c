package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

// LoadCSV reads the dataset at path. A missing file yields ErrNotFound; a
// file without date and rain_mm columns yields ErrSchemaMismatch.
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Series{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return Series{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	s, err := ReadCSV(f)
	if err != nil {
		return Series{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// ReadCSV parses a header-driven dataset. Unknown columns are ignored and
// empty cells are read as unknown values. Dates may carry a time suffix
// ("2024-06-01 00:00:00").
func ReadCSV(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Series{}, fmt.Errorf("empty file: %w", ErrSchemaMismatch)
		}
		return Series{}, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{ColDate, ColRainMM} {
		if _, ok := idx[col]; !ok {
			return Series{}, fmt.Errorf("missing required column %q: %w", col, ErrSchemaMismatch)
		}
	}

	s := Series{}
	for _, col := range Columns {
		if _, ok := idx[col]; ok {
			s.Columns = append(s.Columns, col)
		}
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("line %d: %w", line, err)
		}

		cell := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rawDate := cell(ColDate)
		if rawDate == "" {
			continue
		}
		d, err := parseDate(rawDate)
		if err != nil {
			return Series{}, fmt.Errorf("line %d: invalid date %q: %w", line, rawDate, ErrSchemaMismatch)
		}

		rec := Record{Date: d}
		for _, f := range []struct {
			col string
			dst **float64
		}{
			{ColRainMM, &rec.RainMM},
			{ColTemp, &rec.Temp},
			{ColHumidity, &rec.Humidity},
			{ColWindSpeed, &rec.WindSpeed},
		} {
			v, err := parseFloat(cell(f.col))
			if err != nil {
				return Series{}, fmt.Errorf("line %d: invalid %s: %w", line, f.col, ErrSchemaMismatch)
			}
			*f.dst = v
		}
		s.Records = append(s.Records, rec)
	}

	return s, nil
}

func parseDate(s string) (civil.Date, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return civil.ParseDate(s)
}

// parseFloat reads a cell. Empty and non-finite values (nan, inf) are
// unknown.
func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return &f, nil
}

// WriteCSV writes the series to path through a temporary file and an atomic
// rename, so readers never observe a partial file.
func WriteCSV(path string, s Series) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeCSV(tmp, s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}

func encodeCSV(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range s.Records {
		row := []string{
			r.Date.String(),
			formatFloat(r.RainMM),
			formatFloat(r.Temp),
			formatFloat(r.Humidity),
			formatFloat(r.WindSpeed),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write %s: %w", r.Date, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
