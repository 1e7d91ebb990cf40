package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/logger"
)

// Config is the resolved configuration for both binaries. Values come from
// the config file, STROMPLAN_* environment variables and built-in defaults,
// in that order of precedence.
type Config struct {
	Latitude  float64
	Longitude float64
	Timezone  string

	DatabasePath string
	ListenAddr   string

	SMARDBase       string
	SMARDFilter     string
	SMARDRegion     string
	SMARDResolution string

	OpenWeatherBase   string
	OpenWeatherAPIKey string

	DefaultPreferences engine.UserPreferences

	MQTTEnabled   bool
	MQTTBroker    string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTBaseTopic string
	MQTTQoS       int
	MQTTRetain    bool

	RefreshInterval time.Duration
}

// Load reads configuration. cfgFile overrides the default search path
// ($HOME/.stromplan/config.yaml); a missing config file is fine, defaults
// and environment take over. A .env file next to the binary is loaded
// best-effort first so the OpenWeather key can live there during
// development.
func Load(cfgFile string) (Config, error) {
	log := logger.New("config")

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("could not load .env file")
		}
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolving home directory: %w", err)
		}
		configDir := filepath.Join(home, ".stromplan")
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STROMPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing config file is fine; a broken one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	// the API key commonly arrives via plain OPENWEATHER_API_KEY from .env
	if v.GetString("openweather.api_key") == "" {
		if key := os.Getenv("OPENWEATHER_API_KEY"); key != "" {
			v.Set("openweather.api_key", key)
		}
	}

	cfg := fromViper(v)
	if cfg.DatabasePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.DatabasePath = filepath.Join(home, ".stromplan", "stromplan.db")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Mannheim, Germany
	v.SetDefault("location.latitude", 49.4875)
	v.SetDefault("location.longitude", 8.4660)
	v.SetDefault("timezone", "Europe/Berlin")

	v.SetDefault("database.path", "")
	v.SetDefault("http.listen", ":8080")

	v.SetDefault("smard.base", "https://www.smard.de/app/chart_data")
	v.SetDefault("smard.filter", "1001")
	v.SetDefault("smard.region", "DE")
	v.SetDefault("smard.resolution", "hour")

	v.SetDefault("openweather.base", "https://api.openweathermap.org/data/3.0/onecall")
	v.SetDefault("openweather.api_key", "")

	v.SetDefault("preferences.working_hours_start", 8)
	v.SetDefault("preferences.working_hours_end", 18)
	v.SetDefault("preferences.ev_charge_power_kw", 11.0)
	v.SetDefault("preferences.dishwasher_power_kw", 2.0)
	v.SetDefault("preferences.washing_machine_power_kw", 2.5)
	v.SetDefault("preferences.base_consumption_kw", 0.3)
	v.SetDefault("preferences.solar_peak_capacity_kw", 5.0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "stromplan")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "stromplan")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("refresh_interval", "1h")
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Latitude:  v.GetFloat64("location.latitude"),
		Longitude: v.GetFloat64("location.longitude"),
		Timezone:  v.GetString("timezone"),

		DatabasePath: v.GetString("database.path"),
		ListenAddr:   v.GetString("http.listen"),

		SMARDBase:       v.GetString("smard.base"),
		SMARDFilter:     v.GetString("smard.filter"),
		SMARDRegion:     v.GetString("smard.region"),
		SMARDResolution: v.GetString("smard.resolution"),

		OpenWeatherBase:   v.GetString("openweather.base"),
		OpenWeatherAPIKey: v.GetString("openweather.api_key"),

		DefaultPreferences: engine.UserPreferences{
			WorkingHoursStart:     v.GetInt("preferences.working_hours_start"),
			WorkingHoursEnd:       v.GetInt("preferences.working_hours_end"),
			EVChargePowerKW:       v.GetFloat64("preferences.ev_charge_power_kw"),
			DishwasherPowerKW:     v.GetFloat64("preferences.dishwasher_power_kw"),
			WashingMachinePowerKW: v.GetFloat64("preferences.washing_machine_power_kw"),
			BaseConsumptionKW:     v.GetFloat64("preferences.base_consumption_kw"),
			SolarPeakCapacityKW:   v.GetFloat64("preferences.solar_peak_capacity_kw"),
		},

		MQTTEnabled:   v.GetBool("mqtt.enabled"),
		MQTTBroker:    v.GetString("mqtt.broker"),
		MQTTClientID:  v.GetString("mqtt.client_id"),
		MQTTUsername:  v.GetString("mqtt.username"),
		MQTTPassword:  v.GetString("mqtt.password"),
		MQTTBaseTopic: v.GetString("mqtt.base_topic"),
		MQTTQoS:       v.GetInt("mqtt.qos"),
		MQTTRetain:    v.GetBool("mqtt.retain"),

		RefreshInterval: v.GetDuration("refresh_interval"),
	}
}

// Location loads the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
