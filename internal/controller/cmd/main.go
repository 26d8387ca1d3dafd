package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gfacchetti/wakerelay/internal/controller"
	"github.com/gfacchetti/wakerelay/internal/model"
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

func main() {
	kindFlag := flag.String("kind", "WAKE", "command to send: WAKE, STATUS or USAGE")
	timeout := flag.Duration("timeout", 15*time.Second, "how long to wait for a response")
	flag.Parse()

	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		log.Fatalf("bad -kind: %v", err)
	}

	serial := envStr("DEVICE_SERIAL", "")
	secret := os.Getenv("SECRET_KEY")
	if serial == "" || secret == "" {
		log.Fatal("DEVICE_SERIAL and SECRET_KEY must be set")
	}
	id := model.Identity{Serial: serial, Key: protocol.DeriveKey(secret)}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mqttconn.NewConn(&mqttconn.Config{
		Host:     envStr("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		User:     envStr("MQTT_USER", ""),
		Password: os.Getenv("MQTT_PASSWORD"),
		ClientID: "wolctl-" + uuid.NewString()[:8],
	}, ctx)
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	defer mqttconn.CloseConn(client)

	sender := controller.NewSender(
		id,
		envStr("TOPIC_PREFIX", "wakerelay"),
		envDur("ROTATION_INTERVAL", protocol.DefaultRotationInterval),
		envDur("SKEW_TOLERANCE", protocol.DefaultSkewTolerance),
		client,
		timesync.SystemClock{},
	)

	resp, err := sender.Send(ctx, kind, nil)
	if err != nil {
		log.Fatalf("%s failed: %v", kind, err)
	}
	if resp == nil {
		log.Printf("%s published", kind)
		return
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	os.Stdout.Write(append(out, '\n'))
}
