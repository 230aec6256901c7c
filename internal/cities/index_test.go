package cities

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dryday/internal/types"
)

const sampleList = `[
  {"id": 2643743, "name": "London", "country": "GB", "coord": {"lat": 51.5085, "lon": -0.1257}},
  {"id": 2988507, "name": "Paris", "country": "FR", "coord": {"lat": 48.8534, "lon": 2.3488}},
  {"id": 2643736, "name": "Londonderry", "country": "GB", "coord": {"lat": 54.9981, "lon": -7.3093}},
  {"id": 6058560, "name": "London", "country": "CA"}
]`

func writeIndex(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func names(cs []City) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name + "/" + c.Country
	}
	return out
}

func TestSearch_SubstringInIndexOrder(t *testing.T) {
	ix := NewIndex(writeIndex(t, "world_cities.json", []byte(sampleList)), nil)

	got, err := ix.Search("lon")
	require.NoError(t, err)
	assert.Equal(t, []string{"London/GB", "Londonderry/GB", "London/CA"}, names(got))

	require.NotNil(t, got[0].Lat)
	assert.Equal(t, 51.5085, *got[0].Lat)
	assert.Equal(t, int64(2643743), *got[0].ID)
	assert.Nil(t, got[2].Lat, "entries without coordinates keep nil lat/lon")

	got, err = ix.Search("ARI")
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris/FR"}, names(got))

	got, err = ix.Search("zz")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_CapsResults(t *testing.T) {
	var entries []string
	for i := range 15 {
		entries = append(entries, fmt.Sprintf(`{"id": %d, "name": "Springfield %d", "country": "US"}`, i, i))
	}
	ix := NewIndex(writeIndex(t, "cities.json", []byte("["+strings.Join(entries, ",")+"]")), nil)

	got, err := ix.Search("spring")
	require.NoError(t, err)
	require.Len(t, got, MaxResults)
	assert.Equal(t, "Springfield 0", got[0].Name)
	assert.Equal(t, "Springfield 9", got[9].Name)
}

func TestSearch_QueryTooShort(t *testing.T) {
	ix := NewIndex(writeIndex(t, "cities.json", []byte(sampleList)), nil)

	for _, q := range []string{"", "l"} {
		_, err := ix.Search(q)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr, q)
		assert.Equal(t, types.ErrCodeValidationInvalidQuery, appErr.Code)
	}
}

func TestSearch_MissingFileNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world_cities.json")
	ix := NewIndex(path, nil)

	_, err := ix.Search("lon")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUnavailableCityIndex, appErr.Code)
	assert.Equal(t, 503, appErr.HTTPStatus())
	assert.Contains(t, appErr.Message, "world_cities.json not found")
	assert.Error(t, ix.Check(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(sampleList), 0o644))
	got, err := ix.Search("lon")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.NoError(t, ix.Check(context.Background()))
}

func TestSearch_LoadedOnce(t *testing.T) {
	path := writeIndex(t, "cities.json", []byte(sampleList))
	ix := NewIndex(path, nil)

	_, err := ix.Search("par")
	require.NoError(t, err)

	// The list stays in memory after the file goes away.
	require.NoError(t, os.Remove(path))
	got, err := ix.Search("par")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	ix.Reset()
	_, err = ix.Search("par")
	assert.Error(t, err)
}

func TestSearch_InvalidJSON(t *testing.T) {
	ix := NewIndex(writeIndex(t, "cities.json", []byte(`{"not":"a list"}`)), nil)

	_, err := ix.Search("lon")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUnavailableCityIndex, appErr.Code)
}

func TestSearch_Compressed(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte(sampleList))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll([]byte(sampleList), nil)
	require.NoError(t, enc.Close())

	for name, data := range map[string][]byte{
		"world_cities.json.gz":  gz.Bytes(),
		"world_cities.json.zst": zst,
	} {
		t.Run(name, func(t *testing.T) {
			ix := NewIndex(writeIndex(t, name, data), nil)
			got, err := ix.Search("london")
			require.NoError(t, err)
			assert.Equal(t, []string{"London/GB", "Londonderry/GB", "London/CA"}, names(got))
		})
	}
}
