package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dryday/internal/types"
)

// DefaultBaseURL is the OpenWeather 5 day / 3 hour forecast endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/forecast"

const userAgent = "DryDay/1.0"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

// OpenWeatherConfig configures an OpenWeatherClient.
type OpenWeatherConfig struct {
	APIKey  types.SecretString
	BaseURL string
	Units   string
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// OpenWeatherClient implements Fetcher against the OpenWeather forecast API.
type OpenWeatherClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	units   string
	logger  *slog.Logger
}

var _ Fetcher = (*OpenWeatherClient)(nil)

// NewOpenWeatherClient builds a client whose every request is bounded by
// cfg.Timeout.
func NewOpenWeatherClient(cfg OpenWeatherConfig, opts ...BaseClientOption) *OpenWeatherClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	units := cfg.Units
	if units == "" {
		units = "metric"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenWeatherClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "openweather", cfg.Retry, userAgent, opts...),
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		units:   units,
		logger:  logger,
	}
}

// owResponse mirrors the subset of the forecast payload that is consumed.
// Pointers distinguish absent objects from zero values.
type owResponse struct {
	City *struct {
		Name    string `json:"name"`
		Country string `json:"country"`
		Coord   *struct {
			Lat *float64 `json:"lat"`
			Lon *float64 `json:"lon"`
		} `json:"coord"`
		Timezone int `json:"timezone"`
	} `json:"city"`
	List []struct {
		Dt   *int64 `json:"dt"`
		Main *struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
		} `json:"main"`
		Wind *struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Rain *struct {
			ThreeH *float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
}

type owError struct {
	Cod     json.RawMessage `json:"cod"`
	Message string          `json:"message"`
}

// Fetch retrieves the forecast for q. Every failure (transport, non-2xx or
// undecodable body) is returned as an upstream_forecast_failed AppError
// whose message describes the cause. Nothing is retried unless the client
// was configured with a retry policy.
func (c *OpenWeatherClient) Fetch(ctx context.Context, q Query) (*Forecast, error) {
	params := url.Values{}
	params.Set("appid", c.apiKey.Unmask())
	params.Set("units", c.units)
	switch {
	case q.City != "":
		params.Set("q", q.City)
	case q.Lat != nil && q.Lon != nil:
		params.Set("lat", strconv.FormatFloat(*q.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(*q.Lon, 'f', -1, 64))
	default:
		return nil, types.NewAppError(types.ErrCodeValidationLocationRequired, "City or lat/lon required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, forecastError("failed to build forecast request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, forecastError(appErr.Message, err)
		}
		return nil, forecastError(err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(ctx, resp)
	}

	var payload owResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, forecastError("malformed forecast response: "+err.Error(), err)
	}

	fc, err := payload.normalize()
	if err != nil {
		return nil, forecastError(err.Error(), err)
	}

	c.logger.DebugContext(ctx, "forecast fetched",
		"city", fc.Location.Name,
		"points", len(fc.Points),
	)
	return fc, nil
}

func (c *OpenWeatherClient) handleErrorResponse(ctx context.Context, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := http.StatusText(resp.StatusCode)
	var owErr owError
	if json.Unmarshal(body, &owErr) == nil && owErr.Message != "" {
		msg = owErr.Message
	}

	c.logger.WarnContext(ctx, "forecast provider error",
		"status_code", resp.StatusCode,
		"message", msg,
	)

	return forecastError(
		fmt.Sprintf("forecast provider returned %d: %s", resp.StatusCode, msg),
		fmt.Errorf("openweather returned %d: %s", resp.StatusCode, body),
	)
}

func (r owResponse) normalize() (*Forecast, error) {
	fc := &Forecast{Points: make([]Point, 0, len(r.List))}

	if r.City != nil {
		fc.Location.Name = r.City.Name
		fc.Location.Country = r.City.Country
		fc.Location.UTCOffset = time.Duration(r.City.Timezone) * time.Second
		if r.City.Coord != nil {
			fc.Location.Lat = r.City.Coord.Lat
			fc.Location.Lon = r.City.Coord.Lon
		}
	}

	for i, item := range r.List {
		if item.Dt == nil {
			return nil, fmt.Errorf("malformed forecast response: list[%d] has no dt", i)
		}
		p := Point{Time: time.Unix(*item.Dt, 0).UTC()}
		if item.Main != nil {
			p.TempC = valueOrZero(item.Main.Temp)
			p.Humidity = valueOrZero(item.Main.Humidity)
		}
		if item.Wind != nil {
			p.WindSpeed = valueOrZero(item.Wind.Speed)
		}
		if item.Rain != nil {
			p.Rain3hMM = valueOrZero(item.Rain.ThreeH)
		}
		fc.Points = append(fc.Points, p)
	}

	return fc, nil
}

func valueOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func forecastError(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeUpstreamForecast, msg, err)
}
