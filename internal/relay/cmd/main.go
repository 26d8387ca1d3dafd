package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/protocol"
	"github.com/gfacchetti/wakerelay/internal/relay"
	"github.com/gfacchetti/wakerelay/pkg/mqttconn"
	"github.com/gfacchetti/wakerelay/pkg/schedule"
	"github.com/gfacchetti/wakerelay/pkg/sysstat"
	"github.com/gfacchetti/wakerelay/pkg/timesync"
	"github.com/gfacchetti/wakerelay/pkg/wol"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
func envDur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func main() {
	serial := envStr("DEVICE_SERIAL", "")
	secret := os.Getenv("SECRET_KEY")
	if serial == "" || secret == "" {
		log.Fatal("DEVICE_SERIAL and SECRET_KEY must be set")
	}

	cfg := relay.Config{
		Identity: model.Identity{
			Serial: serial,
			Key:    protocol.DeriveKey(secret),
		},
		TopicPrefix:      envStr("TOPIC_PREFIX", "wakerelay"),
		RotationInterval: envDur("ROTATION_INTERVAL", protocol.DefaultRotationInterval),
		SkewTolerance:    envDur("SKEW_TOLERANCE", protocol.DefaultSkewTolerance),
		RestartAfter:     envDur("RESTART_AFTER", 12*time.Hour),
		MQTT: &mqttconn.Config{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			User:     envStr("MQTT_USER", ""),
			Password: os.Getenv("MQTT_PASSWORD"),
			ClientID: "relay-" + serial + "-" + uuid.NewString()[:8],
		},
	}

	wakeMAC := envStr("WOL_MAC", "")
	if wakeMAC == "" {
		log.Fatal("WOL_MAC must be set")
	}
	wakeAddr := envStr("WOL_BROADCAST", "255.255.255.255:9")
	probeHost := envStr("WOL_IP", "")

	waker, err := relay.NewWolWaker(wakeMAC, wakeAddr)
	if err != nil {
		log.Fatalf("wol: %v", err)
	}
	collector, err := sysstat.New(envStr("USAGE_DISK_PATH", "/"))
	if err != nil {
		log.Fatalf("sysstat: %v", err)
	}
	sched, err := schedule.Load(envStr("SCHEDULE_FILE", ""))
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}

	ts := timesync.NewSource(envStr("NTP_SERVER", "pool.ntp.org"), envInt("NTP_ATTEMPTS", 5))
	machine := relay.NewMachine()
	dispatcher := relay.NewDispatcher(serial, ts, waker, wol.ICMPProber{}, probeHost, collector)

	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)
	svc := relay.NewService(cfg, ts, machine, dispatcher, sched, metrics)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Stand-in for the external indicator driver: renders state changes and
	// received-pulses from the read-only slot, never touching protocol state.
	go runIndicator(ctx, machine)

	mux := http.NewServeMux()
	mux.Handle("/healthz", relay.NewHealthHandler(machine, svc.Client))
	mux.Handle("/readyz", relay.NewReadyHandler(machine))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(envInt("HTTP_PORT", 8080)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[http] listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()
	defer hs.Close()

	// Error dwell before each restart; the restart is the recovery (and
	// cancellation) mechanism for unmodeled faults.
	dwell := envDur("ERROR_DWELL", 10*time.Second)
	for {
		err := svc.Run(ctx)
		if ctx.Err() != nil {
			log.Println("[relay] shutting down")
			return
		}
		if err != nil {
			log.Printf("[relay] service stopped: %v; restarting in %s", err, dwell)
			select {
			case <-time.After(dwell):
			case <-ctx.Done():
				return
			}
			continue
		}
		log.Println("[relay] restarting service loop")
	}
}

func runIndicator(ctx context.Context, machine *relay.Machine) {
	last := machine.Current()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-machine.Pulses():
			log.Println("[led] pulse")
		case <-ticker.C:
			if cur := machine.Current(); cur != last {
				if cur.Phase == relay.PhaseSignaling {
					log.Printf("[led] pattern: %s (%s)", cur.Phase, cur.Signal)
				} else {
					log.Printf("[led] pattern: %s", cur.Phase)
				}
				last = cur
			}
		}
	}
}
