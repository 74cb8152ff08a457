package advantageair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Logger is the logging interface used by this package.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Connection. Zero values take the package defaults.
type Options struct {
	// Host is the controller's address. Required.
	Host string

	// Port defaults to DefaultPort.
	Port int

	// Retry is the read attempt budget used when FetchSnapshot is called
	// without one.
	Retry int

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration

	// RetryDelay is the pause between read attempts and between write
	// retries after a dropped connection.
	RetryDelay time.Duration

	// CoalesceWindow is how long a flush collects changes before sending.
	CoalesceWindow time.Duration

	// HTTPClient is shared by every request. A plain client is used if nil.
	HTTPClient *http.Client

	// Logger is optional.
	Logger Logger
}

// Connection is a client for one Advantage Air controller.
type Connection struct {
	host           string
	port           int
	tr             *transport
	retry          int
	retryDelay     time.Duration
	coalesceWindow time.Duration
	logger         Logger

	mu        sync.RWMutex
	mode      ProtocolMode
	endpoints map[EndpointClass]*Endpoint
}

// NewConnection creates a Connection. No request is made until the first
// FetchSnapshot or SubmitChange.
func NewConnection(opts Options) (*Connection, error) {
	if opts.Host == "" {
		return nil, errors.New("advantageair: host is required")
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Retry <= 0 {
		opts.Retry = DefaultRetry
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = DefaultCoalesceWindow
	}
	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	c := &Connection{
		host:           opts.Host,
		port:           opts.Port,
		tr:             newTransport(opts.Host, opts.Port, opts.HTTPClient, opts.RequestTimeout),
		retry:          opts.Retry,
		retryDelay:     opts.RetryDelay,
		coalesceWindow: opts.CoalesceWindow,
		logger:         logger,
		endpoints:      make(map[EndpointClass]*Endpoint, len(EndpointClasses)),
	}
	for _, class := range EndpointClasses {
		c.endpoints[class] = newEndpoint(class, false, c.tr, c.coalesceWindow, c.retryDelay, logger)
	}
	return c, nil
}

// Address returns host:port of the controller.
func (c *Connection) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Mode returns the detected protocol.
func (c *Connection) Mode() ProtocolMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Endpoint returns the writer for class.
func (c *Connection) Endpoint(class EndpointClass) (*Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.endpoints[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, class)
	}
	return ep, nil
}

// SubmitChange queues change on the endpoint for class and flushes it.
// See Endpoint.SubmitChange for the meaning of the result.
func (c *Connection) SubmitChange(ctx context.Context, class EndpointClass, change Tree) (bool, error) {
	ep, err := c.Endpoint(class)
	if err != nil {
		return false, err
	}
	return ep.SubmitChange(ctx, change)
}

// FetchSnapshot reads the controller state, making up to maxAttempts
// attempts one retry delay apart. maxAttempts <= 0 uses the configured
// budget. On failure the error is a *NoValidResponseError.
func (c *Connection) FetchSnapshot(ctx context.Context, maxAttempts int) (Snapshot, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.retry
	}

	var last error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		snap, err := c.fetchOnce(ctx)
		if err == nil {
			return snap, nil
		}
		last = err
		c.logger.Debug("snapshot attempt failed",
			"controller", c.Address(),
			"attempt", attempts,
			"error", err)

		if attempts == maxAttempts {
			break
		}
		if err := sleepContext(ctx, c.retryDelay); err != nil {
			last = err
			break
		}
	}
	return nil, &NoValidResponseError{Attempts: attempts, Last: last}
}

func (c *Connection) fetchOnce(ctx context.Context) (Snapshot, error) {
	body, err := c.tr.get(ctx, pathGetSystemData)
	if err != nil {
		return nil, err
	}

	if isXML(body) {
		c.becomeLegacy()
		return c.fetchLegacy(ctx, body)
	}
	if c.Mode() == ModeLegacy {
		return nil, fmt.Errorf("%w: legacy controller returned a non-XML body", ErrProtocol)
	}
	c.setMode(ModeModern)

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON response: %w", ErrProtocol, err)
	}
	if _, ok := snap["aircons"]; !ok {
		return nil, fmt.Errorf("%w: response has no aircons", ErrProtocol)
	}
	return snap, nil
}

func (c *Connection) fetchLegacy(ctx context.Context, body []byte) (Snapshot, error) {
	sysDoc, err := parseLegacy(body)
	if err != nil {
		return nil, err
	}

	if sysDoc.Authenticated != "1" {
		loginBody, err := c.tr.get(ctx, pathLogin)
		if err != nil {
			return nil, err
		}
		login, err := parseLegacy(loginBody)
		if err != nil {
			return nil, err
		}
		if login.Authenticated != "1" {
			return nil, fmt.Errorf("%w: authentication failed", ErrProtocol)
		}
		c.logger.Info("authenticated with legacy controller", "controller", c.Address())

		body, err = c.tr.get(ctx, pathGetSystemData)
		if err != nil {
			return nil, err
		}
		if sysDoc, err = parseLegacy(body); err != nil {
			return nil, err
		}
	}

	zoneBody, err := c.tr.get(ctx, pathGetZoneData)
	if err != nil {
		return nil, err
	}
	zoneDoc, err := parseLegacy(zoneBody)
	if err != nil {
		return nil, err
	}

	return normalize(sysDoc, zoneDoc)
}

func (c *Connection) setMode(mode ProtocolMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeLegacy {
		c.mode = mode
	}
}

// becomeLegacy switches the connection to the legacy protocol the first
// time it is seen. The aircon endpoint is replaced by one sending field
// writes and inherits any changes still pending on the old one.
func (c *Connection) becomeLegacy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLegacy {
		return
	}
	c.mode = ModeLegacy

	replacement := newEndpoint(EndpointAircon, true, c.tr, c.coalesceWindow, c.retryDelay, c.logger)
	if old := c.endpoints[EndpointAircon]; old != nil {
		replacement.pending = old.take()
	}
	c.endpoints[EndpointAircon] = replacement

	c.logger.Info("legacy controller detected", "controller", c.Address())
}
