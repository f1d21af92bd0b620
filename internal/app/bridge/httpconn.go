package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/multicareConsortium/st-utils/internal/app/bridge/transform"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

func init() {
	RegisterKind("http", NewHTTPConnection)
}

// HTTPConnection polls a vendor cloud endpoint for weather station data on a
// fixed interval. Stations publish slowly, so an unchanged response body is
// treated as "no new data" and skipped with a shortened sleep.
type HTTPConnection struct {
	connection

	endpoint string
	interval time.Duration
	auth     AuthKind
	username string
	password string
	token    string

	client *http.Client

	lastBody []byte
}

// NewHTTPConnection builds a polling connection from its configuration
// record. The returned connection is idle until Start is called.
func NewHTTPConnection(cfg Config, deps Deps) (Connection, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("connection %s: no host configured", cfg.AppName)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("connection %s: polling interval must be positive", cfg.AppName)
	}

	endpoint := fmt.Sprintf("https://%s", cfg.Host)
	if cfg.Port != 0 && cfg.Port != 443 {
		endpoint = fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port)
	}

	return &HTTPConnection{
		connection: connection{
			appName:    cfg.AppName,
			maxRetries: cfg.MaxRetries,
			unpack:     transform.UnpackWeatherStation,
			store:      deps.Store,
			mon:        deps.Monitor,
		},
		endpoint: endpoint,
		interval: cfg.Interval,
		auth:     cfg.AuthKind,
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.Token,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
	}, nil
}

// Start launches the polling worker. Calling Start on a running connection
// is a no-op.
func (c *HTTPConnection) Start(ctx context.Context, registry sensorthings.SensorRegistry) error {
	if !c.begin(registry) {
		return nil
	}

	c.mon.ConnectionStarted(c.appName)
	go c.run(ctx)

	return nil
}

func (c *HTTPConnection) run(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	defer func() {
		c.mon.ConnectionStopped(c.appName)
		c.end()
	}()

	failures := 0

	for {
		if c.stopped() || ctx.Err() != nil {
			return
		}

		body, err := c.pull(ctx)

		if err == nil && len(body) > 0 && bytes.Equal(body, c.lastBody) {
			// same body as last poll, the station has not published yet;
			// empty bodies are never suppressed, they must surface as
			// unpack failures
			c.sleep(ctx, c.interval/4)
			continue
		}

		if err == nil {
			c.mon.PayloadReceived(c.appName)

			err = c.processPayload(ctx, body)
			if err != nil {
				c.mon.PayloadRejected(c.appName)
			} else {
				// remembered only on success, so a failed payload is retried
				// instead of suppressed as a duplicate
				c.lastBody = body
			}
		}

		if err != nil {
			if countsTowardRetryBudget(err) {
				failures++
				log.Error("failed to process polled payload", "application", c.appName, "failures", failures, "err", err.Error())

				if failures >= c.maxRetries {
					log.Error("connection exceeded max consecutive failures, shutting down", "application", c.appName, "maxRetries", c.maxRetries)
					return
				}
			} else {
				log.Warn("discarded polled payload", "application", c.appName, "err", err.Error())
			}

			c.sleep(ctx, c.interval)
			continue
		}

		failures = 0
		c.sleep(ctx, c.interval)
	}
}

// pull fetches the current station state from the vendor endpoint.
func (c *HTTPConnection) pull(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}

	switch c.auth {
	case AuthTokens:
		req.Header.Set("Authorization", "Bearer "+c.token)
	case AuthCredentials:
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull from %s failed: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull from %s failed with status %d", c.endpoint, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// sleep waits for the given duration but wakes early on stop or context
// cancellation.
func (c *HTTPConnection) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-c.stopCh:
	case <-ctx.Done():
	}
}
