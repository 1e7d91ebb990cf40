package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/weather"
)

// PriceSource fetches one calendar day of hourly day-ahead prices.
type PriceSource interface {
	Day(ctx context.Context, day time.Time) ([]prices.HourlyPrice, error)
}

// WeatherSource fetches the upcoming hourly weather forecast.
type WeatherSource interface {
	Hourly(ctx context.Context, lat, lon float64) ([]weather.Hour, error)
}

// Cache persists raw provider data per calendar day so repeated runs do not
// hammer the providers. Lookups report a miss with found=false.
type Cache interface {
	CachedPrices(region string, day time.Time) ([]prices.HourlyPrice, bool, error)
	CachePrices(region string, day time.Time, hp []prices.HourlyPrice) error
	CachedWeather(lat, lon float64, day time.Time) ([]weather.Hour, bool, error)
	CacheWeather(lat, lon float64, day time.Time, hs []weather.Hour) error
}

// Service turns the raw providers into engine-ready forecast slots. Cache
// may be nil to disable caching. Failures to obtain provider data are
// wrapped in ErrUnavailable; cache trouble only logs.
type Service struct {
	Prices  PriceSource
	Weather WeatherSource
	Cache   Cache
	Region  string
	Lat     float64
	Lon     float64
	Loc     *time.Location
	Log     zerolog.Logger
}

// Slots assembles the forecast for [from, to): one slot per hour that has
// both a price and a weather observation.
func (s *Service) Slots(ctx context.Context, from, to time.Time) ([]engine.ForecastSlot, error) {
	days := s.daysBetween(from, to)

	allPrices, err := s.gatherPrices(ctx, days)
	if err != nil {
		return nil, err
	}
	allHours, err := s.gatherWeather(ctx, days)
	if err != nil {
		return nil, err
	}

	slots := Assemble(allPrices, allHours, s.Loc)

	trimmed := slots[:0]
	for _, slot := range slots {
		if slot.Timestamp.Before(from) || !slot.Timestamp.Before(to) {
			continue
		}
		trimmed = append(trimmed, slot)
	}
	return trimmed, nil
}

func (s *Service) daysBetween(from, to time.Time) []time.Time {
	var days []time.Time
	for d := s.dayStart(from); d.Before(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (s *Service) dayStart(t time.Time) time.Time {
	lt := t.In(s.Loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.Loc)
}

func (s *Service) gatherPrices(ctx context.Context, days []time.Time) ([]prices.HourlyPrice, error) {
	var all []prices.HourlyPrice
	for _, day := range days {
		if s.Cache != nil {
			cached, found, err := s.Cache.CachedPrices(s.Region, day)
			if err != nil {
				s.Log.Warn().Err(err).Time("day", day).Msg("price cache read failed")
			} else if found {
				all = append(all, cached...)
				continue
			}
		}

		fetched, err := s.Prices.Day(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching day-ahead prices for %s: %v",
				ErrUnavailable, day.Format("2006-01-02"), err)
		}
		if len(fetched) > 0 && s.Cache != nil {
			if err := s.Cache.CachePrices(s.Region, day, fetched); err != nil {
				s.Log.Warn().Err(err).Time("day", day).Msg("price cache write failed")
			}
		}
		all = append(all, fetched...)
	}
	return all, nil
}

func (s *Service) gatherWeather(ctx context.Context, days []time.Time) ([]weather.Hour, error) {
	var all []weather.Hour
	var missing []time.Time
	for _, day := range days {
		if s.Cache != nil {
			cached, found, err := s.Cache.CachedWeather(s.Lat, s.Lon, day)
			if err != nil {
				s.Log.Warn().Err(err).Time("day", day).Msg("weather cache read failed")
			} else if found {
				all = append(all, cached...)
				continue
			}
		}
		missing = append(missing, day)
	}
	if len(missing) == 0 {
		return all, nil
	}

	// the One Call endpoint returns the next ~48 h in one shot, so a single
	// fetch covers every missing day it can
	fetched, err := s.Weather.Hourly(ctx, s.Lat, s.Lon)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching weather: %v", ErrUnavailable, err)
	}

	byDay := make(map[int64][]weather.Hour)
	for _, h := range fetched {
		key := s.dayStart(h.Timestamp).Unix()
		byDay[key] = append(byDay[key], h)
	}
	for _, day := range missing {
		hours := byDay[day.Unix()]
		if len(hours) == 0 {
			continue
		}
		if s.Cache != nil {
			if err := s.Cache.CacheWeather(s.Lat, s.Lon, day, hours); err != nil {
				s.Log.Warn().Err(err).Time("day", day).Msg("weather cache write failed")
			}
		}
		all = append(all, hours...)
	}
	return all, nil
}
