package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/weather"
	_ "modernc.org/sqlite"
)

// preferencesID keys the single stored preferences row.
const preferencesID = "default"

// Store handles persistent storage using SQLite: the household preferences,
// the per-day provider caches and the allocation run log.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		id TEXT PRIMARY KEY,
		working_hours_start INTEGER NOT NULL,
		working_hours_end INTEGER NOT NULL,
		ev_charge_power_kw REAL NOT NULL,
		dishwasher_power_kw REAL NOT NULL,
		washing_machine_power_kw REAL NOT NULL,
		base_consumption_kw REAL NOT NULL,
		solar_peak_capacity_kw REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS price_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		region TEXT NOT NULL,
		date TEXT NOT NULL,
		prices TEXT NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(region, date)
	);

	CREATE TABLE IF NOT EXISTS weather_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		date TEXT NOT NULL,
		hours TEXT NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(latitude, longitude, date)
	);

	CREATE TABLE IF NOT EXISTS run_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ran_at DATETIME NOT NULL,
		slot_count INTEGER NOT NULL,
		results TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_cache_date ON price_cache(region, date);
	CREATE INDEX IF NOT EXISTS idx_weather_cache_date ON weather_cache(latitude, longitude, date);
	CREATE INDEX IF NOT EXISTS idx_run_log_ran_at ON run_log(ran_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePreferences saves or updates the household preferences
func (s *Store) SavePreferences(p engine.UserPreferences) error {
	query := `INSERT OR REPLACE INTO preferences
		(id, working_hours_start, working_hours_end, ev_charge_power_kw, dishwasher_power_kw,
		 washing_machine_power_kw, base_consumption_kw, solar_peak_capacity_kw, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, preferencesID, p.WorkingHoursStart, p.WorkingHoursEnd,
		p.EVChargePowerKW, p.DishwasherPowerKW, p.WashingMachinePowerKW,
		p.BaseConsumptionKW, p.SolarPeakCapacityKW, time.Now())

	return err
}

// GetPreferences retrieves the stored preferences; found is false when none
// have been saved yet
func (s *Store) GetPreferences() (engine.UserPreferences, bool, error) {
	query := `SELECT working_hours_start, working_hours_end, ev_charge_power_kw,
		dishwasher_power_kw, washing_machine_power_kw, base_consumption_kw, solar_peak_capacity_kw
		FROM preferences WHERE id = ?`

	var p engine.UserPreferences
	err := s.db.QueryRow(query, preferencesID).Scan(&p.WorkingHoursStart, &p.WorkingHoursEnd,
		&p.EVChargePowerKW, &p.DishwasherPowerKW, &p.WashingMachinePowerKW,
		&p.BaseConsumptionKW, &p.SolarPeakCapacityKW)

	if errors.Is(err, sql.ErrNoRows) {
		return engine.UserPreferences{}, false, nil
	}
	if err != nil {
		return engine.UserPreferences{}, false, err
	}
	return p, true, nil
}

// CachePrices stores one day of fetched prices
func (s *Store) CachePrices(region string, day time.Time, hp []prices.HourlyPrice) error {
	pricesJSON, _ := json.Marshal(hp)
	dateStr := day.Format("2006-01-02")

	query := `INSERT OR REPLACE INTO price_cache (region, date, prices, fetched_at)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, region, dateStr, string(pricesJSON), time.Now())
	return err
}

// CachedPrices retrieves one cached day of prices
func (s *Store) CachedPrices(region string, day time.Time) ([]prices.HourlyPrice, bool, error) {
	dateStr := day.Format("2006-01-02")
	query := `SELECT prices FROM price_cache WHERE region = ? AND date = ?`

	var pricesJSON string
	err := s.db.QueryRow(query, region, dateStr).Scan(&pricesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var hp []prices.HourlyPrice
	if err := json.Unmarshal([]byte(pricesJSON), &hp); err != nil {
		return nil, false, err
	}
	return hp, true, nil
}

// CacheWeather stores one day of fetched weather hours
func (s *Store) CacheWeather(lat, lon float64, day time.Time, hs []weather.Hour) error {
	hoursJSON, _ := json.Marshal(hs)
	dateStr := day.Format("2006-01-02")

	query := `INSERT OR REPLACE INTO weather_cache (latitude, longitude, date, hours, fetched_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, lat, lon, dateStr, string(hoursJSON), time.Now())
	return err
}

// CachedWeather retrieves one cached day of weather hours
func (s *Store) CachedWeather(lat, lon float64, day time.Time) ([]weather.Hour, bool, error) {
	dateStr := day.Format("2006-01-02")
	query := `SELECT hours FROM weather_cache WHERE latitude = ? AND longitude = ? AND date = ?`

	var hoursJSON string
	err := s.db.QueryRow(query, lat, lon, dateStr).Scan(&hoursJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var hs []weather.Hour
	if err := json.Unmarshal([]byte(hoursJSON), &hs); err != nil {
		return nil, false, err
	}
	return hs, true, nil
}

// Run is one logged allocation run.
type Run struct {
	ID        int64                     `json:"id"`
	RanAt     time.Time                 `json:"ran_at"`
	SlotCount int                       `json:"slot_count"`
	Results   []engine.AllocationResult `json:"results"`
}

// RecordRun appends an allocation run to the log
func (s *Store) RecordRun(ranAt time.Time, results []engine.AllocationResult) error {
	resultsJSON, _ := json.Marshal(results)

	query := `INSERT INTO run_log (ran_at, slot_count, results) VALUES (?, ?, ?)`
	_, err := s.db.Exec(query, ranAt.Format(time.RFC3339), len(results), string(resultsJSON))
	return err
}

// RecentRuns returns the newest runs first, at most limit of them
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, ran_at, slot_count, results FROM run_log ORDER BY ran_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var ranAtStr, resultsJSON string
		if err := rows.Scan(&r.ID, &ranAtStr, &r.SlotCount, &resultsJSON); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ranAtStr); err == nil {
			r.RanAt = t
		}
		if err := json.Unmarshal([]byte(resultsJSON), &r.Results); err != nil {
			return nil, fmt.Errorf("unmarshal run %d: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run, or found=false when the log is
// empty
func (s *Store) LatestRun() (Run, bool, error) {
	runs, err := s.RecentRuns(1)
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}
