package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Monitor aggregates cross-connection telemetry: per-sensor push counters,
// per-application payload counters and connection liveness. It is
// constructed once and injected into every connection; its counters are the
// only state in the process mutated from more than one goroutine, guarded
// by a single lock.
type Monitor struct {
	mu sync.Mutex

	startTime time.Time

	startingConnections map[string]struct{}
	liveConnections     map[string]struct{}

	pushSuccess map[string]int
	pushFail    map[string]int
	lastPush    map[string]time.Time

	payloadsReceived map[string]int
	rejectedPayloads map[string]int

	expectedSensors map[string]struct{}
	reportedSensors map[string]struct{}

	configFailures int

	registry     *prometheus.Registry
	pushCounter  *prometheus.CounterVec
	payloadCount *prometheus.CounterVec
}

func New() *Monitor {
	m := &Monitor{
		startTime:           time.Now(),
		startingConnections: make(map[string]struct{}),
		liveConnections:     make(map[string]struct{}),
		pushSuccess:         make(map[string]int),
		pushFail:            make(map[string]int),
		lastPush:            make(map[string]time.Time),
		payloadsReceived:    make(map[string]int),
		rejectedPayloads:    make(map[string]int),
		expectedSensors:     make(map[string]struct{}),
		reportedSensors:     make(map[string]struct{}),
		registry:            prometheus.NewRegistry(),
	}

	m.pushCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stutils_observation_pushes_total",
		Help: "Observations pushed to the remote store, by sensor and outcome.",
	}, []string{"sensor", "outcome"})

	m.payloadCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stutils_payloads_total",
		Help: "Uplink payloads handled, by application and outcome.",
	}, []string{"application", "outcome"})

	m.registry.MustRegister(m.pushCounter, m.payloadCount)

	return m
}

// Registry exposes the monitor's prometheus registry for scraping.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// SensorKey builds the composite key counters are recorded under.
func SensorKey(appName, sensorID string) string {
	return fmt.Sprintf("%s:%s", appName, sensorID)
}

// SetStartingConnections records the set of connection names expected to be
// alive for the remainder of the process.
func (m *Monitor) SetStartingConnections(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startingConnections = make(map[string]struct{}, len(names))
	for _, n := range names {
		m.startingConnections[n] = struct{}{}
	}
}

// ConnectionStarted marks a connection's worker as live. Goroutines cannot
// be enumerated, so liveness is tracked explicitly at loop entry and exit.
func (m *Monitor) ConnectionStarted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveConnections[name] = struct{}{}
}

// ConnectionStopped marks a connection's worker as no longer live.
func (m *Monitor) ConnectionStopped(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.liveConnections, name)
}

// ExpectSensor registers a sensor that should eventually report. Sensors
// that never do are flagged in the periodic report.
func (m *Monitor) ExpectSensor(appName, sensorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectedSensors[SensorKey(appName, sensorID)] = struct{}{}
}

func (m *Monitor) PayloadReceived(appName string) {
	m.mu.Lock()
	m.payloadsReceived[appName]++
	m.mu.Unlock()

	m.payloadCount.WithLabelValues(appName, "received").Inc()
}

func (m *Monitor) PayloadRejected(appName string) {
	m.mu.Lock()
	m.rejectedPayloads[appName]++
	m.mu.Unlock()

	m.payloadCount.WithLabelValues(appName, "rejected").Inc()
}

func (m *Monitor) PushSucceeded(appName, sensorID string) {
	key := SensorKey(appName, sensorID)

	m.mu.Lock()
	m.pushSuccess[key]++
	m.lastPush[key] = time.Now()
	m.reportedSensors[key] = struct{}{}
	m.mu.Unlock()

	m.pushCounter.WithLabelValues(key, "success").Inc()
}

func (m *Monitor) PushFailed(appName, sensorID string) {
	key := SensorKey(appName, sensorID)

	m.mu.Lock()
	m.pushFail[key]++
	m.mu.Unlock()

	m.pushCounter.WithLabelValues(key, "failure").Inc()
}

// ConfigFailure counts an invalid sensor configuration file.
func (m *Monitor) ConfigFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configFailures++
}

// DeadConnections returns starting connections whose worker is gone.
func (m *Monitor) DeadConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadConnectionsLocked()
}

func (m *Monitor) deadConnectionsLocked() []string {
	var dead []string
	for n := range m.startingConnections {
		if _, ok := m.liveConnections[n]; !ok {
			dead = append(dead, n)
		}
	}
	sort.Strings(dead)
	return dead
}

func (m *Monitor) silentSensorsLocked() []string {
	var silent []string
	for k := range m.expectedSensors {
		if _, ok := m.reportedSensors[k]; !ok {
			silent = append(silent, k)
		}
	}
	sort.Strings(silent)
	return silent
}
