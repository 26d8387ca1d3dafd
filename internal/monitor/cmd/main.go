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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/monitor"
	"github.com/gfacchetti/wakerelay/internal/protocol"
	"github.com/gfacchetti/wakerelay/pkg/mqttconn"
	"github.com/gfacchetti/wakerelay/pkg/timesync"
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

// parseDevices reads "serial1:secret1,serial2:secret2".
func parseDevices(raw string) []model.Identity {
	var out []model.Identity
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		serial, secret, ok := strings.Cut(part, ":")
		if !ok || serial == "" || secret == "" {
			log.Fatalf("bad DEVICES entry %q, want serial:secret", part)
		}
		out = append(out, model.Identity{Serial: serial, Key: protocol.DeriveKey(secret)})
	}
	return out
}

func main() {
	devices := parseDevices(os.Getenv("DEVICES"))
	if len(devices) == 0 {
		log.Fatal("DEVICES must list at least one serial:secret pair")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// InfluxDB
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(envInt("WRITE_BATCH_SIZE", 10))).
		SetFlushInterval(uint(envInt("WRITE_FLUSH_INTERVAL_MS", 200)))
	influx := influxdb2.NewClientWithOptions(envStr("INFLUX_URL", "http://localhost:8086"), os.Getenv("INFLUX_TOKEN"), opts)
	defer influx.Close()
	writeAPI := influx.WriteAPI(envStr("INFLUX_ORG", "wakerelay"), envStr("INFLUX_BUCKET", "devices"))
	writer := monitor.NewWriter(writeAPI)

	// MQTT
	client, err := mqttconn.NewConn(&mqttconn.Config{
		Host:     envStr("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		User:     envStr("MQTT_USER", ""),
		Password: os.Getenv("MQTT_PASSWORD"),
		ClientID: envStr("HOSTNAME", "wakerelay-monitor"),
	}, ctx)
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	defer mqttconn.CloseConn(client)

	clock := timesync.SystemClock{}
	rec := monitor.NewRecorder(
		writer,
		devices,
		envStr("TOPIC_PREFIX", "wakerelay"),
		envDur("ROTATION_INTERVAL", protocol.DefaultRotationInterval),
		envDur("SKEW_TOLERANCE", protocol.DefaultSkewTolerance),
		clock,
	)

	consumer := mqttconn.NewRotatingConsumer(client, 0)
	consumer.SetHandler(rec.Handle)
	go consumer.Run(ctx)

	now := clock.Now()
	rec.Rotate(consumer, now)
	next := rec.NextRotation(now)

	// HTTP
	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.NewHealthHandler(client, influx, writer))
	mux.Handle("/readyz", monitor.NewReadyHandler(client, influx, writer, 2*time.Second))
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(envInt("HTTP_PORT", 8081)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[http] monitor listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()
	defer hs.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[mon] shutting down")
			return
		case <-ticker.C:
			if now = clock.Now(); !now.Before(next) {
				rec.Rotate(consumer, now)
				next = rec.NextRotation(now)
			}
		}
	}
}
