package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/multicareConsortium/st-utils/internal/app/bridge/transform"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

func init() {
	RegisterKind("mqtt", NewMQTTConnection)
}

// inboxSize bounds how many uplinks may queue between broker delivery and
// the worker loop. LoRaWAN gateways publish minutes apart, so a small
// buffer is plenty; overflow drops the message and books a rejection.
const inboxSize = 32

// disconnectQuiesce is handed to paho so in-flight work can drain before
// the network connection is torn down.
const disconnectQuiesce = 250 * time.Millisecond

// MQTTConnection subscribes to a Things Stack application's uplink topic
// and bridges every published message. Messages arrive on the broker's
// callback goroutine and are handed to the worker loop through a buffered
// inbox so the callback never blocks.
type MQTTConnection struct {
	connection

	broker   string
	topic    string
	username string
	password string
	timeout  time.Duration

	client mqtt.Client
	inbox  chan []byte
}

// NewMQTTConnection builds a subscribing connection from its configuration
// record. The broker is not contacted until Start is called.
func NewMQTTConnection(cfg Config, deps Deps) (Connection, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("connection %s: no host configured", cfg.AppName)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("connection %s: receive timeout must be positive", cfg.AppName)
	}

	port := cfg.Port
	if port == 0 {
		port = 8883
	}

	topic := cfg.Topic
	if topic == "" {
		topic = fmt.Sprintf("v3/%s/devices/+/up", cfg.AppName)
	}

	username := cfg.Username
	if username == "" {
		username = cfg.AppName
	}

	return &MQTTConnection{
		connection: connection{
			appName:    cfg.AppName,
			maxRetries: cfg.MaxRetries,
			unpack:     transform.UnpackTTS,
			store:      deps.Store,
			mon:        deps.Monitor,
		},
		broker:   fmt.Sprintf("tls://%s:%d", cfg.Host, port),
		topic:    topic,
		username: username,
		password: cfg.Password,
		timeout:  cfg.Interval,
		inbox:    make(chan []byte, inboxSize),
	}, nil
}

// Start authenticates against the broker, subscribes and launches the
// worker. Authentication failures are returned to the caller, a rejected
// connect attempt is a configuration problem and is not retried here.
// Calling Start on a running connection is a no-op.
func (c *MQTTConnection) Start(ctx context.Context, registry sensorthings.SensorRegistry) error {
	if !c.begin(registry) {
		return nil
	}

	log := logging.GetFromContext(ctx)

	// client ids must be unique per broker or the broker evicts the
	// previous session
	opts := mqtt.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(fmt.Sprintf("st-utils-%s-%s", c.appName, uuid.NewString())).
		SetUsername(c.username).
		SetPassword(c.password).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		c.end()
		return fmt.Errorf("connection %s: connect to %s failed: %w", c.appName, c.broker, token.Error())
	}

	token := c.client.Subscribe(c.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case c.inbox <- msg.Payload():
		default:
			log.Warn("uplink inbox full, dropping message", "application", c.appName, "topic", msg.Topic())
			c.mon.PayloadRejected(c.appName)
		}
	})
	if token.Wait() && token.Error() != nil {
		c.client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
		c.end()
		return fmt.Errorf("connection %s: subscribe to %s failed: %w", c.appName, c.topic, token.Error())
	}

	c.mon.ConnectionStarted(c.appName)
	go c.run(ctx)

	return nil
}

func (c *MQTTConnection) run(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	defer func() {
		if c.client != nil {
			c.client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
		}
		c.mon.ConnectionStopped(c.appName)
		c.end()
	}()

	failures := 0

	for {
		if c.stopped() || ctx.Err() != nil {
			return
		}

		payload, err := c.pull(ctx)

		if err == nil {
			c.mon.PayloadReceived(c.appName)

			err = c.processPayload(ctx, payload)
			if err != nil {
				c.mon.PayloadRejected(c.appName)
			}
		}

		if err != nil {
			if countsTowardRetryBudget(err) {
				failures++
				log.Error("failed to process uplink", "application", c.appName, "failures", failures, "err", err.Error())

				if failures >= c.maxRetries {
					log.Error("connection exceeded max consecutive failures, shutting down", "application", c.appName, "maxRetries", c.maxRetries)
					return
				}
			} else {
				log.Debug("no uplink processed this cycle", "application", c.appName, "reason", err.Error())
			}

			continue
		}

		failures = 0
	}
}

// pull waits for the next uplink from the inbox, giving up after the
// configured timeout.
func (c *MQTTConnection) pull(ctx context.Context) ([]byte, error) {
	t := time.NewTimer(c.timeout)
	defer t.Stop()

	select {
	case payload := <-c.inbox:
		return payload, nil
	case <-t.C:
		return nil, errPullTimeout
	case <-c.stopCh:
		return nil, errPullTimeout
	case <-ctx.Done():
		return nil, errPullTimeout
	}
}
