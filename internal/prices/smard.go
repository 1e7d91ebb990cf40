package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const smardAPIBase = "https://www.smard.de/app/chart_data"

const (
	// FilterDayAhead selects the day-ahead auction price series.
	FilterDayAhead = "1001"
	// ResolutionHour selects hourly values.
	ResolutionHour = "hour"
	// DefaultRegion is the German bidding zone.
	DefaultRegion = "DE"
)

// HourlyPrice is one hour of the day-ahead auction, already converted to
// EUR/kWh.
type HourlyPrice struct {
	Timestamp time.Time `json:"timestamp"`
	EURPerKWh float64   `json:"eur_per_kwh"`
}

// SMARDClient fetches day-ahead electricity prices from the SMARD market
// data platform. Fields are exported so callers can point the client at a
// different series or, in tests, a local server.
type SMARDClient struct {
	HTTPClient *http.Client
	BaseURL    string
	Filter     string
	Region     string
	Resolution string
}

// NewSMARDClient creates a client for the day-ahead hourly series of the
// given bidding zone.
func NewSMARDClient(region string) *SMARDClient {
	if region == "" {
		region = DefaultRegion
	}
	return &SMARDClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    smardAPIBase,
		Filter:     FilterDayAhead,
		Region:     region,
		Resolution: ResolutionHour,
	}
}

// smardResponse mirrors the chart_data index payload. Values are EUR/MWh;
// hours not yet auctioned carry null.
type smardResponse struct {
	Data []smardPoint `json:"data"`
}

type smardPoint struct {
	Timestamp int64    `json:"timestamp"` // milliseconds since epoch
	Value     *float64 `json:"value"`
}

// Window fetches the hourly index and returns the prices with from <=
// timestamp <= to, chronologically sorted. The index endpoint has no range
// parameters, so filtering happens client-side.
func (c *SMARDClient) Window(ctx context.Context, from, to time.Time) ([]HourlyPrice, error) {
	url := fmt.Sprintf("%s/%s/%s/index_%s.json", c.BaseURL, c.Filter, c.Region, c.Resolution)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SMARD returned status %d: %s", resp.StatusCode, string(body))
	}

	var smardResp smardResponse
	if err := json.NewDecoder(resp.Body).Decode(&smardResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	prices := make([]HourlyPrice, 0, len(smardResp.Data))
	for _, p := range smardResp.Data {
		if p.Value == nil {
			continue
		}
		ts := time.UnixMilli(p.Timestamp).UTC()
		if ts.Before(from) || ts.After(to) {
			continue
		}
		prices = append(prices, HourlyPrice{
			Timestamp: ts,
			EURPerKWh: *p.Value / 1000.0, // EUR/MWh -> EUR/kWh
		})
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Timestamp.Before(prices[j].Timestamp)
	})

	return prices, nil
}

// Day fetches the prices of one calendar day, midnight to midnight in the
// day's own location.
func (c *SMARDClient) Day(ctx context.Context, day time.Time) ([]HourlyPrice, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour).Add(-time.Nanosecond)
	return c.Window(ctx, start, end)
}
