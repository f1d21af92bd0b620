package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Snapshot is a point-in-time view of the monitor's counters, safe to
// serialize for the operator API and the on-disk report.
type Snapshot struct {
	StartTime time.Time            `json:"startTime"`
	Uptime    string               `json:"uptime"`
	Received  map[string]int       `json:"payloadsReceived"`
	Rejected  map[string]int       `json:"rejectedPayloads"`
	Pushed    map[string]int       `json:"pushSuccess"`
	Failed    map[string]int       `json:"pushFail"`
	LastPush  map[string]time.Time `json:"lastPushTime"`

	ConfigFailures  int      `json:"configFailures"`
	DeadConnections []string `json:"deadConnections"`
	SilentSensors   []string `json:"silentSensors"`
}

// Snapshot returns a copy of the monitor's state under the lock.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyCounts := func(src map[string]int) map[string]int {
		dst := make(map[string]int, len(src))
		for k, v := range src {
			dst[k] = v
		}
		return dst
	}

	lastPush := make(map[string]time.Time, len(m.lastPush))
	for k, v := range m.lastPush {
		lastPush[k] = v
	}

	return Snapshot{
		StartTime:       m.startTime,
		Uptime:          time.Since(m.startTime).Round(time.Second).String(),
		Received:        copyCounts(m.payloadsReceived),
		Rejected:        copyCounts(m.rejectedPayloads),
		Pushed:          copyCounts(m.pushSuccess),
		Failed:          copyCounts(m.pushFail),
		LastPush:        lastPush,
		ConfigFailures:  m.configFailures,
		DeadConnections: m.deadConnectionsLocked(),
		SilentSensors:   m.silentSensorsLocked(),
	}
}

// WriteTo renders the snapshot as the plain-text health report consumed by
// operators.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	var n int64
	var werr error

	// the first failed write sticks and turns the rest into no-ops
	write := func(format string, args ...any) {
		if werr != nil {
			return
		}
		c, err := fmt.Fprintf(w, format, args...)
		n += int64(c)
		werr = err
	}

	write("Periodic Health Report\n")
	write("Started: %s, uptime: %s\n", s.StartTime.Format(time.RFC3339), s.Uptime)

	if len(s.DeadConnections) > 0 {
		write("DEAD CONNECTIONS: %v\n", s.DeadConnections)
	} else {
		write("All connections alive.\n")
	}

	if s.ConfigFailures > 0 {
		write("Invalid sensor configuration files: %d\n", s.ConfigFailures)
	}

	sortedKeys := func(m map[string]int) []string {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}

	for _, k := range sortedKeys(s.Received) {
		write("Payloads received from %s: %d\n", k, s.Received[k])
	}
	for _, k := range sortedKeys(s.Rejected) {
		write("Payloads rejected for %s: %d\n", k, s.Rejected[k])
	}
	for _, k := range sortedKeys(s.Pushed) {
		line := fmt.Sprintf("Observations created for %s: %d", k, s.Pushed[k])
		if ts, ok := s.LastPush[k]; ok {
			line += fmt.Sprintf(" (last push %s ago)", time.Since(ts).Round(time.Second))
		}
		write("%s\n", line)
	}
	for _, k := range sortedKeys(s.Failed) {
		write("Rejected observations for %s: %d\n", k, s.Failed[k])
	}
	for _, k := range s.SilentSensors {
		write("Sensor %s has never reported.\n", k)
	}

	return n, werr
}

// Report runs the periodic health report on the calling goroutine until the
// context is cancelled. Each interval it logs the counters, flags sensors
// that never reported and writes the snapshot to path. A connection whose
// worker has exited is a fleet-health event logged at the highest severity;
// the process keeps running so healthy connections are unaffected.
func (m *Monitor) Report(ctx context.Context, interval time.Duration, path string) {
	log := logging.GetFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := m.Snapshot()

		if len(s.DeadConnections) > 0 {
			log.Error("connections have died", "connections", s.DeadConnections)
		} else {
			log.Info("all connections alive", "uptime", s.Uptime)
		}

		for k, v := range s.Received {
			log.Info("payloads received", "application", k, "count", v)
		}
		for k, v := range s.Rejected {
			log.Warn("payloads rejected", "application", k, "count", v)
		}
		for k, v := range s.Pushed {
			log.Info("observations created", "sensor", k, "count", v)
		}
		for k, v := range s.Failed {
			log.Warn("observations rejected", "sensor", k, "count", v)
		}
		for _, k := range s.SilentSensors {
			log.Warn("sensor has never reported", "sensor", k)
		}

		if path != "" {
			err := writeSnapshot(s, path)
			if err != nil {
				log.Error("could not write health report", "path", path, "err", err.Error())
			}
		}
	}
}

func writeSnapshot(s Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.WriteTo(f)
	return err
}
