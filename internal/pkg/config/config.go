package config

import (
	"context"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
)

// Settings holds the environment-derived service settings. Sensor and
// application configuration comes from YAML files instead, see
// LoadApplications.
type Settings struct {
	FrostURL      string
	FrostUser     string
	FrostPassword string

	ListenAddr     string
	SnapshotPath   string
	ReportInterval time.Duration

	PostgresHost     string
	PostgresPort     string
	PostgresDBName   string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
}

// LoadSettings reads the service settings from the environment. The remote
// store endpoint and credentials are required, everything else has a
// sensible default. Postgres settings are optional, a missing host disables
// the observation archive.
func LoadSettings(ctx context.Context) Settings {
	s := Settings{
		FrostURL:      env.GetVariableOrDie(ctx, "FROST_URL", "url of the FROST server api root"),
		FrostUser:     env.GetVariableOrDie(ctx, "FROST_USER", "FROST basic auth user"),
		FrostPassword: env.GetVariableOrDie(ctx, "FROST_PASSWORD", "FROST basic auth password"),

		ListenAddr:   listenAddress(env.GetVariableOrDefault(ctx, "SERVICE_PORT", ":8080")),
		SnapshotPath: env.GetVariableOrDefault(ctx, "STATUS_SNAPSHOT_PATH", "/tmp/st-utils-status.txt"),

		PostgresHost:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", ""),
		PostgresPort:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", "5432"),
		PostgresDBName:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", "observations"),
		PostgresUser:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", ""),
		PostgresPassword: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", "disable"),
	}

	interval := env.GetVariableOrDefault(ctx, "STATUS_REPORT_INTERVAL", "10m")
	d, err := time.ParseDuration(interval)
	if err != nil {
		d = 10 * time.Minute
	}
	s.ReportInterval = d

	return s
}

// listenAddress accepts either a full listen address or a bare port number
// and always returns something http.Server can bind to.
func listenAddress(v string) string {
	if !strings.Contains(v, ":") {
		return ":" + v
	}
	return v
}

// ArchiveEnabled reports whether the delivered observation archive should
// be wired up.
func (s Settings) ArchiveEnabled() bool {
	return s.PostgresHost != ""
}
