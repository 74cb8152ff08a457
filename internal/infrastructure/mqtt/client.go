package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/config"
)

// Client is the bridge's broker connection. It reconnects with backoff,
// restores subscriptions afterwards and counts traffic for /metrics.
// Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	stats counters
}

type counters struct {
	published       atomic.Uint64
	publishFailures atomic.Uint64
	received        atomic.Uint64
	handlerErrors   atomic.Uint64
	reconnects      atomic.Uint64
}

// Stats is a point-in-time copy of the client's traffic counters.
type Stats struct {
	Published       uint64 `json:"published"`
	PublishFailures uint64 `json:"publish_failures"`
	Received        uint64 `json:"received"`
	HandlerErrors   uint64 `json:"handler_errors"`
	Reconnects      uint64 `json:"reconnects"`
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. paho calls it from its own
// goroutine; a returned error is logged and counted.
type MessageHandler func(topic string, payload []byte) error

// Will is the Last Will and Testament the broker publishes (QoS 1,
// retained) when the client disconnects without a clean shutdown.
// An empty Topic selects the client's own health topic with a generic
// offline payload.
type Will struct {
	Topic   string
	Payload []byte
}

// Connect dials the broker with will registered and waits up to
// defaultConnectTimeout for the first connection.
func Connect(cfg config.MQTTConfig, will Will) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID, will)

	c := newClient(nil, cfg)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired yet.
	c.connMu.Lock()
	if !c.connected {
		c.connected = true
		c.stats.reconnects.Add(1)
	}
	c.connMu.Unlock()

	return c, nil
}

// newClient wraps an existing paho client.
func newClient(pc pahomqtt.Client, cfg config.MQTTConfig) *Client {
	return &Client{
		client:        pc,
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
}

// handleConnect runs on the first connection and after every reconnect.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = true
	c.connMu.Unlock()
	if !wasConnected {
		c.stats.reconnects.Add(1)
	}

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect runs when paho reports the connection lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("mqtt connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions replays every tracked subscription.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors are ignored here; paho retries on the next reconnect.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects from the broker after a quiesce period for pending
// operations. A clean disconnect suppresses the Will.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck fails when the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger enables logging of handler failures and connection loss.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Stats returns the traffic counters. Reconnects counts every transition
// from disconnected to connected, the first connection included.
func (c *Client) Stats() Stats {
	return Stats{
		Published:       c.stats.published.Load(),
		PublishFailures: c.stats.publishFailures.Load(),
		Received:        c.stats.received.Load(),
		HandlerErrors:   c.stats.handlerErrors.Load(),
		Reconnects:      c.stats.reconnects.Load(),
	}
}
