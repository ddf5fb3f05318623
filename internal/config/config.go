package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	PersistBaseURL string
	DatabaseURL    string
	RedisURL       string

	DisconnectGrace   time.Duration
	RoomInactivityTTL time.Duration
	SweepInterval     time.Duration
	PingInterval      time.Duration
	AuthTimeout       time.Duration

	MaxRooms           int
	SendQueueSize      int
	MessageOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":3000",
		DisconnectGrace:   5 * time.Second,
		RoomInactivityTTL: 5 * time.Minute,
		SweepInterval:     60 * time.Second,
		PingInterval:      25 * time.Second,
		AuthTimeout:       5 * time.Second,
		MaxRooms:          500,
		SendQueueSize:     64,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	} else if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("PORT must be numeric: %q", v)
		}
		cfg.ListenAddr = ":" + v
	}

	cfg.PersistBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PERSIST_BASE_URL")), "/")
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_OVERRIDE_DIR"))

	var err error
	if cfg.DisconnectGrace, err = durationEnv("DISCONNECT_GRACE", cfg.DisconnectGrace); err != nil {
		return nil, err
	}
	if cfg.RoomInactivityTTL, err = durationEnv("ROOM_INACTIVITY_TTL", cfg.RoomInactivityTTL); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = durationEnv("PING_INTERVAL", cfg.PingInterval); err != nil {
		return nil, err
	}
	if cfg.AuthTimeout, err = durationEnv("AUTH_TIMEOUT", cfg.AuthTimeout); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("MAX_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRooms = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEND_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendQueueSize = n
		}
	}

	return cfg, nil
}

// durationEnv accepts either a Go duration ("5s", "2m") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%s must be positive: %q", key, v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s is not a valid duration: %q", key, v)
	}
	return d, nil
}
