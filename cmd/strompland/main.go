package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stromplan/stromplan/internal/config"
	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/forecast"
	"github.com/stromplan/stromplan/internal/logger"
	"github.com/stromplan/stromplan/internal/metrics"
	"github.com/stromplan/stromplan/internal/mqtt"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/store"
	"github.com/stromplan/stromplan/internal/uiapi"
	"github.com/stromplan/stromplan/internal/weather"
)

func main() {
	var cfgFile, listen, dbPath string

	rootCmd := &cobra.Command{
		Use:   "strompland",
		Short: "Stromplan HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stromplan/config.yaml)")
	rootCmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, :8080)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.stromplan/stromplan.db)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logger.New("strompland")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	priceClient := prices.NewSMARDClient(cfg.SMARDRegion)
	priceClient.BaseURL = cfg.SMARDBase
	priceClient.Filter = cfg.SMARDFilter
	priceClient.Resolution = cfg.SMARDResolution

	weatherClient := weather.NewOpenWeatherClient(cfg.OpenWeatherAPIKey)
	weatherClient.BaseURL = cfg.OpenWeatherBase

	svc := &forecast.Service{
		Prices:  priceClient,
		Weather: weatherClient,
		Cache:   st,
		Region:  cfg.SMARDRegion,
		Lat:     cfg.Latitude,
		Lon:     cfg.Longitude,
		Loc:     loc,
		Log:     logger.New("forecast"),
	}

	registry := prometheus.NewRegistry()
	sink, err := metrics.NewSink(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	srv := &uiapi.Server{
		Store:        st,
		Forecaster:   svc,
		Prices:       priceClient,
		Engine:       engine.New(),
		Sink:         sink,
		Gatherer:     registry,
		Region:       cfg.SMARDRegion,
		Loc:          loc,
		DefaultPrefs: cfg.DefaultPreferences,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DatabasePath).Msg("starting HTTP server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.RefreshInterval > 0 {
		go refreshLoop(ctx, cfg, svc, st, sink, loc, log)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// refreshLoop periodically refreshes the forecast, reruns the allocation and
// publishes the plan over MQTT when enabled. Failures are logged and the
// loop carries on with the next tick.
func refreshLoop(ctx context.Context, cfg config.Config, svc *forecast.Service, st *store.Store, sink *metrics.Sink, loc *time.Location, log zerolog.Logger) {
	var pub *mqtt.Publisher
	if cfg.MQTTEnabled {
		var err error
		pub, err = mqtt.Connect(mqtt.Config{
			Broker:    cfg.MQTTBroker,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			BaseTopic: cfg.MQTTBaseTopic,
			QoS:       byte(cfg.MQTTQoS),
			Retain:    cfg.MQTTRetain,
		})
		if err != nil {
			log.Error().Err(err).Msg("MQTT connect failed, publishing disabled")
		} else {
			defer pub.Close()
		}
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		refresh(ctx, cfg, svc, st, sink, pub, loc, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func refresh(ctx context.Context, cfg config.Config, svc *forecast.Service, st *store.Store, sink *metrics.Sink, pub *mqtt.Publisher, loc *time.Location, log zerolog.Logger) {
	started := time.Now()
	from := started.In(loc).Truncate(time.Hour)
	to := from.Add(24 * time.Hour)

	slots, err := svc.Slots(ctx, from, to)
	if err != nil {
		sink.RecordFetchError("forecast")
		log.Error().Err(err).Msg("forecast refresh failed")
		return
	}

	prefs, found, err := st.GetPreferences()
	if err != nil || !found {
		prefs = cfg.DefaultPreferences
	}

	results, err := engine.Allocate(slots, prefs)
	if err != nil {
		log.Error().Err(err).Msg("allocation failed")
		return
	}
	sink.RecordRun(len(results), time.Since(started))

	if err := st.RecordRun(started, results); err != nil {
		log.Error().Err(err).Msg("recording run failed")
	}

	if pub != nil {
		if err := pub.PublishPlan(results, time.Now()); err != nil {
			log.Error().Err(err).Msg("MQTT publish failed")
		}
	}

	log.Info().Int("slots", len(results)).Dur("took", time.Since(started)).Msg("plan refreshed")
}
