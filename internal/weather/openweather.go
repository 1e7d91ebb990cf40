package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const oneCallAPIBase = "https://api.openweathermap.org/data/3.0/onecall"

// ErrMissingAPIKey is returned before any request is attempted when the
// client has no OpenWeather API key.
var ErrMissingAPIKey = errors.New("openweather API key is not set")

// Hour is one hour of forecasted weather.
type Hour struct {
	Timestamp     time.Time `json:"timestamp"`
	TempC         float64   `json:"temp_c"`
	Humidity      float64   `json:"humidity"`        // percent
	CloudCoverPct float64   `json:"cloud_cover_pct"` // percent
	PrecipProb    float64   `json:"precip_prob"`     // 0-1
}

// OpenWeatherClient fetches hourly forecasts from the OpenWeather One Call
// API.
type OpenWeatherClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

// NewOpenWeatherClient creates a One Call client with the given API key.
func NewOpenWeatherClient(apiKey string) *OpenWeatherClient {
	return &OpenWeatherClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    oneCallAPIBase,
		APIKey:     apiKey,
	}
}

// oneCallResponse covers the parts of the One Call payload the forecast
// needs; minutely, daily and alerts are excluded from the request.
type oneCallResponse struct {
	Hourly []oneCallHour `json:"hourly"`
}

type oneCallHour struct {
	Dt       int64   `json:"dt"` // Unix seconds
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
	Clouds   float64 `json:"clouds"`
	Pop      float64 `json:"pop"`
}

// Hourly fetches the next ~48 hours of forecast for the coordinates, in
// metric units.
func (c *OpenWeatherClient) Hourly(ctx context.Context, lat, lon float64) ([]Hour, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.4f", lat))
	params.Set("lon", fmt.Sprintf("%.4f", lon))
	params.Set("exclude", "minutely,daily,alerts")
	params.Set("units", "metric")
	params.Set("appid", c.APIKey)

	fullURL := fmt.Sprintf("%s?%s", c.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openweather returned status %d: %s", resp.StatusCode, string(body))
	}

	var oc oneCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&oc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	hours := make([]Hour, 0, len(oc.Hourly))
	for _, h := range oc.Hourly {
		hours = append(hours, Hour{
			Timestamp:     time.Unix(h.Dt, 0).UTC(),
			TempC:         h.Temp,
			Humidity:      h.Humidity,
			CloudCoverPct: h.Clouds,
			PrecipProb:    h.Pop,
		})
	}

	return hours, nil
}
