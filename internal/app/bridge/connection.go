package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/multicareConsortium/st-utils/internal/app/bridge/transform"
	"github.com/multicareConsortium/st-utils/internal/pkg/frost"
	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// ErrUnregisteredSensor marks data from a device id that is not in the
// injected sensor registry. The device's data is skipped, other devices in
// the same payload are still processed.
var ErrUnregisteredSensor = errors.New("sensor not in registry")

// errPullTimeout marks an uneventful pull: no message arrived within the
// timeout. Timeouts never count toward the retry budget, an idle sensor is
// not a dead one.
var errPullTimeout = errors.New("no payload received within timeout")

// stopJoinTimeout bounds how long Stop waits for a worker to observe the
// stop signal before abandoning it.
const stopJoinTimeout = 5 * time.Second

// Connection is one application's long-running protocol bridge. Start is
// idempotent and spawns exactly one worker goroutine; Stop signals
// cooperative shutdown and joins the worker with a bounded timeout.
// Connections are identified by application name: two connections are
// considered equal iff their names match.
type Connection interface {
	AppName() string
	Start(ctx context.Context, registry sensorthings.SensorRegistry) error
	Stop() error
}

// ObservationUploader is the slice of the remote store client a connection
// drives for every received payload.
type ObservationUploader interface {
	UploadObservation(ctx context.Context, sensorID sensorthings.SensorID, obs sensorthings.Observation, property sensorthings.ObservedProperty, appName string) error
}

// AuthKind selects how pre-validated credentials are presented to the
// application, token based or username/password based.
type AuthKind string

const (
	AuthTokens      AuthKind = "tokens"
	AuthCredentials AuthKind = "credentials"
)

// Config is the parsed per-application configuration record produced by
// config validation.
type Config struct {
	AppName    string
	Kind       string
	AuthKind   AuthKind
	Host       string
	Port       int
	Topic      string
	Interval   time.Duration
	MaxRetries int

	Username string
	Password string
	Token    string
}

// Deps carries the collaborators every connection variant shares.
type Deps struct {
	Store   ObservationUploader
	Monitor *monitor.Monitor
}

// Factory builds one connection variant from its configuration.
type Factory func(cfg Config, deps Deps) (Connection, error)

var kinds = map[string]Factory{}

// RegisterKind registers a connection factory under a configuration key.
// Configuration selects a key into this registry; there is no reflection
// based resolution.
func RegisterKind(kind string, f Factory) {
	kinds[kind] = f
}

// NewConnection builds the connection variant selected by cfg.Kind.
func NewConnection(cfg Config, deps Deps) (Connection, error) {
	f, ok := kinds[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown connection kind %q", cfg.Kind)
	}
	return f(cfg, deps)
}

// Dedupe drops connections whose application name was already seen,
// preserving order of first occurrence.
func Dedupe(conns []Connection) []Connection {
	seen := make(map[string]struct{}, len(conns))
	out := make([]Connection, 0, len(conns))

	for _, c := range conns {
		if _, ok := seen[c.AppName()]; ok {
			continue
		}
		seen[c.AppName()] = struct{}{}
		out = append(out, c)
	}

	return out
}

// connection holds the state and behaviour shared by every variant: the
// lifecycle flags, the injected registry and the unpack, transform, upload,
// record pipeline.
type connection struct {
	appName    string
	maxRetries int
	unpack     transform.Unpacker

	store ObservationUploader
	mon   *monitor.Monitor

	registry sensorthings.SensorRegistry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func (c *connection) AppName() string {
	return c.appName
}

// begin flips the connection into the running state, returning false if the
// worker is already live.
func (c *connection) begin(registry sensorthings.SensorRegistry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return false
	}

	c.running = true
	c.registry = registry
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	return true
}

func (c *connection) end() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	close(c.doneCh)
}

// Stop signals cooperative shutdown and joins the worker. In-flight pulls
// are not interrupted, they complete naturally before the signal is
// observed; a worker that does not exit within the bound is abandoned.
func (c *connection) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		return nil
	case <-time.After(stopJoinTimeout):
		return fmt.Errorf("connection %s did not stop within %s, abandoning worker", c.appName, stopJoinTimeout)
	}
}

func (c *connection) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// processPayload runs the shared pipeline over one raw uplink: unpack, look
// every device up in the registry, transform per declared model, upload
// every observation. Data from unregistered devices is skipped without
// failing the rest of the payload.
func (c *connection) processPayload(ctx context.Context, raw []byte) error {
	log := logging.GetFromContext(ctx)

	payload, err := c.unpack(raw)
	if err != nil {
		return err
	}

	var errs []error

	for sensorID, native := range payload.Data {
		model, ok := c.registry[sensorID]
		if !ok {
			log.Warn("skipping data from unregistered sensor", "sensor", sensorID, "application", c.appName)
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnregisteredSensor, sensorID))
			continue
		}

		transformer, err := transform.NewTransformer(model, native, payload.ApplicationTime)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %s", transform.ErrUnpack, sensorID, err.Error()))
			continue
		}

		results, err := transformer.ToObservations()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %s", transform.ErrUnpack, sensorID, err.Error()))
			continue
		}

		for _, r := range results {
			err = c.store.UploadObservation(ctx, sensorID, r.Observation, r.Property, c.appName)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// countsTowardRetryBudget classifies a loop iteration failure. Malformed
// payloads, pull timeouts and unregistered devices are expected operational
// noise; upload failures and anything unclassified count.
func countsTowardRetryBudget(err error) bool {
	switch {
	case errors.Is(err, frost.ErrUpload):
		return true
	case errors.Is(err, transform.ErrUnpack):
		return false
	case errors.Is(err, errPullTimeout):
		return false
	case onlyUnregistered(err):
		return false
	default:
		return true
	}
}

// onlyUnregistered reports whether every joined error is an unregistered
// sensor error. A payload mixing unknown devices with failed uploads still
// counts.
func onlyUnregistered(err error) bool {
	if !errors.Is(err, ErrUnregisteredSensor) {
		return false
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return true
	}

	for _, e := range joined.Unwrap() {
		if !errors.Is(e, ErrUnregisteredSensor) {
			return false
		}
	}

	return true
}
