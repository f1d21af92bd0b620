package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"gopkg.in/yaml.v2"

	"github.com/multicareConsortium/st-utils/internal/app/bridge"
	"github.com/multicareConsortium/st-utils/internal/app/bridge/transform"
	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// Application is one parsed and validated sensor configuration file: the
// connection settings for its upstream application, the declared device
// model and the arrangement of entities to be mirrored on the remote store.
type Application struct {
	Bridge      bridge.Config
	Model       sensorthings.SensorModel
	Arrangement *sensorthings.Arrangement
}

type fileConfig struct {
	NetworkMetadata networkMetadata                     `yaml:"network_metadata"`
	Sensors         []*sensorthings.Sensor              `yaml:"sensors"`
	Things          []*sensorthings.Thing               `yaml:"things"`
	Locations       []*sensorthings.Location            `yaml:"locations"`
	Datastreams     []*sensorthings.Datastream          `yaml:"datastreams"`
	ObservedProps   []*sensorthings.ObservedPropertyDef `yaml:"observed_properties"`
}

type networkMetadata struct {
	ApplicationName string `yaml:"application_name"`
	Kind            string `yaml:"kind"`
	Auth            string `yaml:"auth"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Topic           string `yaml:"topic"`
	Interval        string `yaml:"interval"`
	MaxRetries      int    `yaml:"max_retries"`
	SensorModel     string `yaml:"sensor_model"`
}

// LoadApplications parses every YAML file in dir into an Application and
// builds the combined sensor registry. A file that fails validation is
// logged, booked as a configuration failure and skipped; the remaining
// files still load.
func LoadApplications(ctx context.Context, dir string, mon *monitor.Monitor) ([]Application, sensorthings.SensorRegistry, error) {
	log := logging.GetFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read config directory %s: %w", dir, err)
	}

	apps := []Application{}
	registry := sensorthings.SensorRegistry{}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		app, err := loadFile(ctx, filepath.Join(dir, name))
		if err != nil {
			log.Error("invalid sensor configuration, skipping file", "file", name, "err", err.Error())
			mon.ConfigFailure()
			continue
		}

		for _, s := range app.Arrangement.Sensors {
			registry[sensorthings.SensorID(s.Name())] = app.Model
		}

		apps = append(apps, app)
	}

	return apps, registry, nil
}

func loadFile(ctx context.Context, path string) (Application, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Application{}, err
	}

	var fc fileConfig
	err = yaml.Unmarshal(b, &fc)
	if err != nil {
		return Application{}, fmt.Errorf("could not parse yaml: %w", err)
	}

	arr := &sensorthings.Arrangement{
		Sensors:            fc.Sensors,
		Things:             fc.Things,
		Locations:          fc.Locations,
		Datastreams:        fc.Datastreams,
		ObservedProperties: fc.ObservedProps,
	}
	normalizeArrangement(arr)

	err = arr.Validate()
	if err != nil {
		return Application{}, err
	}

	bc, model, err := fc.NetworkMetadata.toBridgeConfig(ctx)
	if err != nil {
		return Application{}, err
	}

	if _, ok := transform.Lookup(model); !ok {
		return Application{}, fmt.Errorf("unknown sensor model %q", model)
	}

	return Application{Bridge: bc, Model: model, Arrangement: arr}, nil
}

func (m networkMetadata) toBridgeConfig(ctx context.Context) (bridge.Config, sensorthings.SensorModel, error) {
	if m.ApplicationName == "" {
		return bridge.Config{}, "", fmt.Errorf("network_metadata.application_name is required")
	}
	if m.Kind == "" {
		return bridge.Config{}, "", fmt.Errorf("network_metadata.kind is required")
	}
	if m.Host == "" {
		return bridge.Config{}, "", fmt.Errorf("network_metadata.host is required")
	}
	if m.SensorModel == "" {
		return bridge.Config{}, "", fmt.Errorf("network_metadata.sensor_model is required")
	}

	interval := 60 * time.Second
	if m.Interval != "" {
		d, err := time.ParseDuration(m.Interval)
		if err != nil || d <= 0 {
			return bridge.Config{}, "", fmt.Errorf("invalid interval %q", m.Interval)
		}
		interval = d
	}

	maxRetries := m.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	cfg := bridge.Config{
		AppName:    m.ApplicationName,
		Kind:       m.Kind,
		AuthKind:   bridge.AuthKind(m.Auth),
		Host:       m.Host,
		Port:       m.Port,
		Topic:      m.Topic,
		Interval:   interval,
		MaxRetries: maxRetries,
	}

	switch cfg.AuthKind {
	case bridge.AuthTokens:
		cfg.Token = env.GetVariableOrDefault(ctx, credentialVar(m.ApplicationName, "TOKEN"), "")
		if cfg.Token == "" {
			return bridge.Config{}, "", fmt.Errorf("no access token in environment for %s", m.ApplicationName)
		}
	case bridge.AuthCredentials:
		cfg.Username = env.GetVariableOrDefault(ctx, credentialVar(m.ApplicationName, "USERNAME"), m.ApplicationName)
		cfg.Password = env.GetVariableOrDefault(ctx, credentialVar(m.ApplicationName, "PASSWORD"), "")
		if cfg.Password == "" {
			return bridge.Config{}, "", fmt.Errorf("no password in environment for %s", m.ApplicationName)
		}
	default:
		return bridge.Config{}, "", fmt.Errorf("unknown auth kind %q", m.Auth)
	}

	return cfg, sensorthings.SensorModel(m.SensorModel), nil
}

// credentialVar maps an application name to the environment variable that
// holds one of its credentials.
func credentialVar(appName, suffix string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(appName))
	return "APP_" + key + "_" + suffix
}

// normalizeArrangement rewrites the nested map values yaml.v2 produces into
// string-keyed maps, so entity bodies marshal to JSON.
func normalizeArrangement(a *sensorthings.Arrangement) {
	for _, s := range a.Sensors {
		s.Properties = normalizeMap(s.Properties)
	}
	for _, t := range a.Things {
		t.Properties = normalizeMap(t.Properties)
	}
	for _, l := range a.Locations {
		l.Properties = normalizeMap(l.Properties)
		l.Location_ = normalizeMap(l.Location_)
	}
	for _, d := range a.Datastreams {
		d.Properties = normalizeMap(d.Properties)
		d.UnitOfMeasurement = normalizeMap(d.UnitOfMeasurement)
	}
	for _, o := range a.ObservedProperties {
		o.Properties = normalizeMap(o.Properties)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeValue(val)
		}
		return t
	default:
		return v
	}
}
