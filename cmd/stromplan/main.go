package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stromplan/stromplan/internal/config"
	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/forecast"
	"github.com/stromplan/stromplan/internal/logger"
	"github.com/stromplan/stromplan/internal/mqtt"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/store"
	"github.com/stromplan/stromplan/internal/weather"
)

var (
	cfgFile string
	dbPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stromplan",
		Short: "Stromplan - hourly household action recommendations from price and solar forecasts",
		Long: `Stromplan recommends, per hour, whether to charge the EV, run the
dishwasher or washing machine, or sell solar surplus to the grid, based on
day-ahead electricity prices and the weather forecast.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stromplan/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.stromplan/stromplan.db)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return cfg, nil
}

func openStore(cfg config.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.NewStore(cfg.DatabasePath)
}

func buildService(cfg config.Config, st *store.Store) (*forecast.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	priceClient := prices.NewSMARDClient(cfg.SMARDRegion)
	priceClient.BaseURL = cfg.SMARDBase
	priceClient.Filter = cfg.SMARDFilter
	priceClient.Resolution = cfg.SMARDResolution

	weatherClient := weather.NewOpenWeatherClient(cfg.OpenWeatherAPIKey)
	weatherClient.BaseURL = cfg.OpenWeatherBase

	return &forecast.Service{
		Prices:  priceClient,
		Weather: weatherClient,
		Cache:   st,
		Region:  cfg.SMARDRegion,
		Lat:     cfg.Latitude,
		Lon:     cfg.Longitude,
		Loc:     loc,
		Log:     logger.New("forecast"),
	}, nil
}

// preferences returns the stored preferences, or the configured defaults
// when none have been saved yet.
func preferences(cfg config.Config, st *store.Store) (engine.UserPreferences, error) {
	prefs, found, err := st.GetPreferences()
	if err != nil {
		return engine.UserPreferences{}, err
	}
	if !found {
		return cfg.DefaultPreferences, nil
	}
	return prefs, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and store the default preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := cfg.DefaultPreferences.Validate(); err != nil {
				return err
			}
			if err := st.SavePreferences(cfg.DefaultPreferences); err != nil {
				return err
			}

			fmt.Println("Initialized stromplan")
			fmt.Printf("Database: %s\n", cfg.DatabasePath)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Put your OpenWeather API key in .env or the config file")
			fmt.Println("  2. Fetch data: stromplan fetch")
			fmt.Println("  3. Generate a plan: stromplan plan")
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and cache day-ahead prices and the weather forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := buildService(cfg, st)
			if err != nil {
				return err
			}

			day := time.Now().In(svc.Loc)
			if date != "today" {
				day, err = time.ParseInLocation("2006-01-02", date, svc.Loc)
				if err != nil {
					return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
				}
			}

			from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, svc.Loc)
			slots, err := svc.Slots(context.Background(), from, from.AddDate(0, 0, 1))
			if err != nil {
				return err
			}

			fmt.Printf("Cached %d forecast slots for %s\n", len(slots), from.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "today", "Date to fetch (YYYY-MM-DD or 'today')")

	return cmd
}

func runPlan(cfg config.Config, st *store.Store, hours, workers int) ([]engine.AllocationResult, error) {
	svc, err := buildService(cfg, st)
	if err != nil {
		return nil, err
	}
	prefs, err := preferences(cfg, st)
	if err != nil {
		return nil, err
	}

	from := time.Now().In(svc.Loc).Truncate(time.Hour)
	to := from.Add(time.Duration(hours) * time.Hour)

	slots, err := svc.Slots(context.Background(), from, to)
	if err != nil {
		return nil, err
	}

	eng := engine.New()
	eng.Workers = workers
	results, err := eng.Allocate(slots, prefs)
	if err != nil {
		return nil, err
	}

	if err := st.RecordRun(time.Now(), results); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return results, nil
}

func planCmd() *cobra.Command {
	var hours, workers int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Recommend actions for the coming hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := runPlan(cfg, st, hours, workers)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			printPlan(results)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Planning horizon in hours")
	cmd.Flags().IntVar(&workers, "workers", 1, "Worker goroutines for slot processing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")

	return cmd
}

func printPlan(results []engine.AllocationResult) {
	fmt.Printf("%-17s %9s %7s %4s %4s %4s %5s  %s\n",
		"HOUR", "EUR/KWH", "SOLAR", "EV", "DW", "WM", "SELL", "REASON")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, r := range results {
		fmt.Printf("%-17s %9.4f %6.2fk %4s %4s %4s %5s  %s\n",
			r.Timestamp.Format("2006-01-02 15:04"),
			r.PricePerKWh,
			r.EstimatedSolarKW,
			mark(r.ChargeEV), mark(r.RunDishwasher), mark(r.RunWashingMachine), mark(r.SellToGrid),
			r.Reason)
	}
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func prefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or update the household preferences",
	}
	cmd.AddCommand(prefsShowCmd())
	cmd.AddCommand(prefsSetCmd())
	return cmd
}

func prefsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			prefs, err := preferences(cfg, st)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(prefs)
		},
	}
}

func prefsSetCmd() *cobra.Command {
	var (
		whStart, whEnd                     int
		evKW, dwKW, wmKW, baseKW, solarKWp float64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update preferences; only the given flags change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			prefs, err := preferences(cfg, st)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("working-hours-start") {
				prefs.WorkingHoursStart = whStart
			}
			if flags.Changed("working-hours-end") {
				prefs.WorkingHoursEnd = whEnd
			}
			if flags.Changed("ev-power") {
				prefs.EVChargePowerKW = evKW
			}
			if flags.Changed("dishwasher-power") {
				prefs.DishwasherPowerKW = dwKW
			}
			if flags.Changed("washing-machine-power") {
				prefs.WashingMachinePowerKW = wmKW
			}
			if flags.Changed("base-consumption") {
				prefs.BaseConsumptionKW = baseKW
			}
			if flags.Changed("solar-peak") {
				prefs.SolarPeakCapacityKW = solarKWp
			}

			if err := prefs.Validate(); err != nil {
				return err
			}
			if err := st.SavePreferences(prefs); err != nil {
				return err
			}

			fmt.Println("Preferences updated")
			return nil
		},
	}

	cmd.Flags().IntVar(&whStart, "working-hours-start", 8, "Working hours start (0-23)")
	cmd.Flags().IntVar(&whEnd, "working-hours-end", 18, "Working hours end (0-23)")
	cmd.Flags().Float64Var(&evKW, "ev-power", 11.0, "EV charge power in kW")
	cmd.Flags().Float64Var(&dwKW, "dishwasher-power", 2.0, "Dishwasher power in kW")
	cmd.Flags().Float64Var(&wmKW, "washing-machine-power", 2.5, "Washing machine power in kW")
	cmd.Flags().Float64Var(&baseKW, "base-consumption", 0.3, "Base household consumption in kW")
	cmd.Flags().Float64Var(&solarKWp, "solar-peak", 5.0, "Solar peak capacity in kWp")

	return cmd
}

func publishCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Generate a plan and publish it over MQTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := runPlan(cfg, st, hours, 1)
			if err != nil {
				return err
			}

			pub, err := mqtt.Connect(mqtt.Config{
				Broker:    cfg.MQTTBroker,
				ClientID:  cfg.MQTTClientID,
				Username:  cfg.MQTTUsername,
				Password:  cfg.MQTTPassword,
				BaseTopic: cfg.MQTTBaseTopic,
				QoS:       byte(cfg.MQTTQoS),
				Retain:    cfg.MQTTRetain,
			})
			if err != nil {
				return err
			}
			defer pub.Close()

			if err := pub.PublishPlan(results, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Published %d hours to %s/%s\n", len(results), cfg.MQTTBroker, cfg.MQTTBaseTopic)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Planning horizon in hours")

	return cmd
}
