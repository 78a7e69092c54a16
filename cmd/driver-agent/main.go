package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/locator"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/views"
)

func main() {
	// allow some flags for local runs
	var (
		metricsAddr string
		trackFile   string
		refresh     time.Duration
	)
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&trackFile, "track", "", "file holding an encoded polyline to replay instead of a live sensor")
	flag.DurationVar(&refresh, "refresh", 30*time.Second, "how often to reload assigned deliveries")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	log := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DriverID <= 0 {
		log.Error("DRIVER_ID is required")
		os.Exit(1)
	}

	sensor, err := newSensor(cfg, trackFile)
	if err != nil {
		log.Error("sensor", "error", err)
		os.Exit(1)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)
	var reporter locator.Reporter = client
	pub, err := events.NewPublisher(cfg)
	if err != nil {
		log.Error("location mirror", "error", err)
		os.Exit(1)
	}
	if pub != nil {
		defer pub.Close()
		reporter = &mirrorReporter{next: client, pub: pub, driverID: cfg.DriverID, attempts: 3, delay: 200 * time.Millisecond, log: log}
	}

	loc := locator.New(sensor, reporter, locator.WithLogger(log), locator.WithSensorTimeout(cfg.SensorTimeout))
	dash := views.NewDriverDashboard(views.DriverDeps{
		DriverID:       cfg.DriverID,
		Backend:        client,
		Locator:        loc,
		Interval:       cfg.LocationInterval,
		ActiveInterval: cfg.ActiveInterval,
		Log:            log,
	})
	defer dash.Close()

	var ready atomic.Bool
	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: the last delivery refresh reached the backend
			if !ready.Load() {
				http.Error(w, "backend not reachable", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("driver agent started", "driver_id", cfg.DriverID, "interval", cfg.LocationInterval.String(), "active_interval", cfg.ActiveInterval.String())
	runRefreshLoop(ctx, dash, refresh, &ready, log)
	log.Info("shutting down driver agent")
}

// runRefreshLoop reloads deliveries so the locator follows pickups and
// drop-offs. Failures keep the previous schedule.
func runRefreshLoop(ctx context.Context, dash *views.DriverDashboard, every time.Duration, ready *atomic.Bool, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := dash.Refresh(ctx, false); err != nil {
			if ctx.Err() != nil {
				return
			}
			ready.Store(false)
			log.Warn("delivery refresh failed", "error", err)
		} else {
			ready.Store(true)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func newSensor(cfg config.Config, trackFile string) (locator.Sensor, error) {
	switch {
	case trackFile != "":
		b, err := os.ReadFile(trackFile)
		if err != nil {
			return nil, err
		}
		pts, err := geo.DecodePolyline(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, err
		}
		return locator.NewTrackSensor(pts), nil
	case cfg.SensorURL != "":
		return &locator.HTTPSensor{URL: cfg.SensorURL, Client: &http.Client{Timeout: cfg.SensorTimeout}}, nil
	default:
		return locator.StaticSensor{Point: cfg.Restaurant}, nil
	}
}
