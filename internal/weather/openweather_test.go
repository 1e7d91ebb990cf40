package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyParsesForecast(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	payload := fmt.Sprintf(`{
		"lat": 49.4875, "lon": 8.466, "timezone": "Europe/Berlin",
		"current": {"dt": %d, "temp": 11.2},
		"hourly": [
			{"dt": %d, "temp": 11.2, "humidity": 62, "clouds": 40, "pop": 0.1},
			{"dt": %d, "temp": 12.0, "humidity": 58, "clouds": 0, "pop": 0},
			{"dt": %d, "temp": 10.1, "humidity": 71, "clouds": 100, "pop": 0.65}
		]
	}`, base.Unix(), base.Unix(), base.Add(time.Hour).Unix(), base.Add(2*time.Hour).Unix())

	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	client := NewOpenWeatherClient("test-key")
	client.BaseURL = srv.URL

	hours, err := client.Hourly(context.Background(), 49.4875, 8.4660)
	require.NoError(t, err)

	assert.Equal(t, "49.4875", gotQuery.Get("lat"))
	assert.Equal(t, "8.4660", gotQuery.Get("lon"))
	assert.Equal(t, "minutely,daily,alerts", gotQuery.Get("exclude"))
	assert.Equal(t, "metric", gotQuery.Get("units"))
	assert.Equal(t, "test-key", gotQuery.Get("appid"))

	require.Len(t, hours, 3)
	assert.True(t, hours[0].Timestamp.Equal(base))
	assert.Equal(t, 11.2, hours[0].TempC)
	assert.Equal(t, 62.0, hours[0].Humidity)
	assert.Equal(t, 40.0, hours[0].CloudCoverPct)
	assert.Equal(t, 0.1, hours[0].PrecipProb)
	assert.Equal(t, 100.0, hours[2].CloudCoverPct)
}

func TestHourlyRequiresAPIKey(t *testing.T) {
	client := NewOpenWeatherClient("")
	_, err := client.Hourly(context.Background(), 49.0, 8.0)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestHourlyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewOpenWeatherClient("bad-key")
	client.BaseURL = srv.URL

	_, err := client.Hourly(context.Background(), 49.0, 8.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
