// Package cities searches the static city list used for autocomplete.
package cities

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"dryday/internal/types"
)

// MaxResults caps a search.
const MaxResults = 10

// City is one search hit.
type City struct {
	ID      *int64   `json:"id"`
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// rawCity is an entry of the provider's bulk city list.
type rawCity struct {
	ID      *int64 `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Coord   *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coord"`
}

// Index is the lazily loaded city list. It is read at most once per
// successful load; a failed load is retried on the next search.
type Index struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	cities []City
	lower  []string
}

// NewIndex creates an index over the JSON array at path. Files ending in
// .gz or .zst are decompressed.
func NewIndex(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{path: path, logger: logger}
}

// Search returns up to MaxResults cities whose name contains q, ignoring
// case, in index order.
func (ix *Index) Search(q string) ([]City, error) {
	if utf8.RuneCountInString(q) < types.MinCityQueryLength {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidQuery,
			fmt.Sprintf("q must be at least %d characters", types.MinCityQueryLength), nil)
	}

	cities, lower, err := ix.snapshot()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(q)
	out := make([]City, 0, MaxResults)
	for i, name := range lower {
		if strings.Contains(name, needle) {
			out = append(out, cities[i])
			if len(out) >= MaxResults {
				break
			}
		}
	}
	return out, nil
}

// Reset forgets the loaded list.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.loaded = false
	ix.cities = nil
	ix.lower = nil
}

// Check reports whether the index file is present. It does not load it.
func (ix *Index) Check(_ context.Context) error {
	if _, err := os.Stat(ix.path); err != nil {
		return fmt.Errorf("city index: %w", err)
	}
	return nil
}

func (ix *Index) snapshot() ([]City, []string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.loaded {
		cities, err := ix.read()
		if err != nil {
			return nil, nil, err
		}
		lower := make([]string, len(cities))
		for i, c := range cities {
			lower[i] = strings.ToLower(c.Name)
		}
		ix.cities, ix.lower, ix.loaded = cities, lower, true
		ix.logger.Info("city index loaded", "path", ix.path, "cities", len(cities))
	}
	return ix.cities, ix.lower, nil
}

func (ix *Index) read() ([]City, error) {
	f, err := os.Open(ix.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAppError(types.ErrCodeUnavailableCityIndex,
				fmt.Sprintf("%s not found. Please download OpenWeather city list.", filepath.Base(ix.path)), err)
		}
		return nil, types.NewAppError(types.ErrCodeUnavailableCityIndex, "city index could not be opened", err)
	}
	defer f.Close()

	r, closeFn, err := decompress(ix.path, bufio.NewReader(f))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUnavailableCityIndex, "city index could not be decompressed", err)
	}
	defer closeFn()

	var raw []rawCity
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		ix.logger.Error("city index unreadable", "path", ix.path, "error", err)
		return nil, types.NewAppError(types.ErrCodeUnavailableCityIndex, "city index is not a valid JSON list", err)
	}

	cities := make([]City, 0, len(raw))
	for _, c := range raw {
		city := City{ID: c.ID, Name: c.Name, Country: c.Country}
		if c.Coord != nil {
			city.Lat, city.Lon = c.Coord.Lat, c.Coord.Lon
		}
		cities = append(cities, city)
	}
	return cities, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case ".zst":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}
	return r, func() {}, nil
}
