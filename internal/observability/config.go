package observability

import (
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/backoffice/internal/config"
)

// Config controls the operational listener that exposes metrics and health.
type Config struct {
	// Addr is the listen address; empty disables the listener.
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	ServiceName     string
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "backoffice"
	}
	addr, ok := os.LookupEnv("METRICS_ADDR")
	if !ok {
		addr = ":9090"
	}
	return Config{
		Addr:            strings.TrimSpace(addr),
		ReadTimeout:     5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		ServiceName:     serviceName,
	}
}
