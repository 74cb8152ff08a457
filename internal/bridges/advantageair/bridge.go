package advantageair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// minTopicParts is graylogic/{type}/advantageair.
	minTopicParts = 3

	// commandTimeout bounds one command: the coalescing window, the write
	// and its retries.
	commandTimeout = 30 * time.Second

	// requestTimeout bounds a read_state request that has to poll.
	requestTimeout = 30 * time.Second

	// DefaultPollInterval is used when a Device has no PollInterval.
	DefaultPollInterval = 10 * time.Second
)

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// TelemetryWriter receives every successfully polled snapshot.
// Satisfied by *influxdb.Client.
type TelemetryWriter interface {
	WriteSnapshot(deviceID string, snapshot map[string]any)
}

// CommandRecord is one submitted change and its outcome.
type CommandRecord struct {
	ID       string
	DeviceID string
	Endpoint string
	Source   string
	Change   map[string]any
	Status   AckStatus
	Error    string
}

// CommandLog persists submitted changes.
type CommandLog interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// SnapshotListener is called after a poll that changed a controller's
// snapshot. It must not block.
type SnapshotListener func(deviceID string, snapshot Snapshot)

// Device is one configured controller.
type Device struct {
	ID           string
	Name         string
	Conn         *Connection
	PollInterval time.Duration
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	BridgeID string
	Version  string
	Devices  []Device

	// MQTTClient is required.
	MQTTClient MQTTClient

	// Telemetry and CommandLog are optional.
	Telemetry  TelemetryWriter
	CommandLog CommandLog

	HealthInterval time.Duration
	Logger         Logger
}

// SubmitRequest is a change addressed to one endpoint of one controller.
type SubmitRequest struct {
	// ID is generated when empty.
	ID       string
	DeviceID string
	Endpoint string
	Change   map[string]any
	Source   string
}

// Bridge polls every configured controller, publishes their state to MQTT
// and applies commands received over MQTT or submitted directly.
//
// All methods are safe for concurrent use.
type Bridge struct {
	bridgeID   string
	mqtt       MQTTClient
	telemetry  TelemetryWriter
	commandLog CommandLog
	health     *HealthReporter

	devices map[string]*deviceState
	order   []string

	listeners   []SnapshotListener
	listenersMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

type deviceState struct {
	cfg  Device
	kick chan struct{}

	// fetchMu serialises polls of one controller.
	fetchMu sync.Mutex

	mu          sync.RWMutex
	snapshot    Snapshot
	lastPayload []byte
	lastPoll    time.Time
	lastErr     error
}

// NewBridge creates a bridge. Call Start or Run to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("at least one device is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		bridgeID:   opts.BridgeID,
		mqtt:       opts.MQTTClient,
		telemetry:  opts.Telemetry,
		commandLog: opts.CommandLog,
		devices:    make(map[string]*deviceState, len(opts.Devices)),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     logger,
	}

	for _, d := range opts.Devices {
		if d.ID == "" {
			ctxCancel()
			return nil, fmt.Errorf("device id is required")
		}
		if d.Conn == nil {
			ctxCancel()
			return nil, fmt.Errorf("device %s: connection is required", d.ID)
		}
		if _, dup := b.devices[d.ID]; dup {
			ctxCancel()
			return nil, fmt.Errorf("device %s: duplicate id", d.ID)
		}
		if d.PollInterval <= 0 {
			d.PollInterval = DefaultPollInterval
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		b.devices[d.ID] = &deviceState{cfg: d, kick: make(chan struct{}, 1)}
		b.order = append(b.order, d.ID)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   b,
		Logger:    logger,
	})

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics and starts polling and
// health reporting. Cancelling ctx has the same effect as Stop, except
// that Stop must still be called to wait for in-flight work.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	context.AfterFunc(ctx, b.ctxCancel)

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logger.Info("subscribed to requests", "topic", requestTopic)

	for _, id := range b.order {
		b.wg.Add(1)
		go b.pollLoop(b.devices[id])
	}

	b.health.Start(b.ctx)

	b.logger.Info("bridge started",
		"bridge_id", b.bridgeID,
		"devices", len(b.order))
	return nil
}

// Stop cancels in-flight work, waits for it to finish and publishes a
// final "stopping" health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// Run starts the bridge, blocks until ctx is cancelled and then stops it.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return err
	}
	<-ctx.Done()
	b.Stop()
	return nil
}

// OnSnapshot registers a listener for snapshot changes.
func (b *Bridge) OnSnapshot(l SnapshotListener) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, l)
	b.listenersMu.Unlock()
}

// pollLoop polls one controller immediately, then every PollInterval, and
// straight away after a flush so the published state follows the write.
func (b *Bridge) pollLoop(dev *deviceState) {
	defer b.wg.Done()

	ticker := time.NewTicker(dev.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := b.refresh(b.ctx, dev); err != nil && b.ctx.Err() == nil {
			b.logger.Warn("poll failed", "device_id", dev.cfg.ID, "error", err)
		}

		select {
		case <-b.ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		case <-dev.kick:
		}
	}
}

// Refresh polls a controller now and returns its snapshot.
func (b *Bridge) Refresh(ctx context.Context, deviceID string) (Snapshot, error) {
	dev, ok := b.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return b.refresh(ctx, dev)
}

func (b *Bridge) refresh(ctx context.Context, dev *deviceState) (Snapshot, error) {
	dev.fetchMu.Lock()
	defer dev.fetchMu.Unlock()

	snap, err := dev.cfg.Conn.FetchSnapshot(ctx, 0)
	now := time.Now().UTC()
	if err != nil {
		dev.mu.Lock()
		dev.lastPoll = now
		dev.lastErr = err
		dev.mu.Unlock()
		return nil, err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	dev.mu.Lock()
	changed := !bytes.Equal(payload, dev.lastPayload)
	dev.snapshot = snap
	dev.lastPayload = payload
	dev.lastPoll = now
	dev.lastErr = nil
	dev.mu.Unlock()

	if b.telemetry != nil {
		b.telemetry.WriteSnapshot(dev.cfg.ID, snap)
	}

	if changed {
		b.publishState(dev, snap)
		b.notify(dev.cfg.ID, snap)
	}

	return snap.Clone(), nil
}

func (b *Bridge) publishState(dev *deviceState, snap Snapshot) {
	conn := dev.cfg.Conn
	msg := NewStateMessage(dev.cfg.ID, conn.Mode(), conn.Address(), snap)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to encode state", "device_id", dev.cfg.ID, "error", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(dev.cfg.ID), payload, 1, true); err != nil {
		b.logger.Error("failed to publish state", "device_id", dev.cfg.ID, "error", err)
		return
	}
	b.logger.Debug("published state", "device_id", dev.cfg.ID, "mode", conn.Mode().String())
}

func (b *Bridge) notify(deviceID string, snap Snapshot) {
	b.listenersMu.RLock()
	listeners := make([]SnapshotListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.listenersMu.RUnlock()

	for _, l := range listeners {
		l(deviceID, snap.Clone())
	}
}

// Snapshot returns the last polled snapshot of a controller. ok is false
// for an unknown device or one that has not been polled successfully.
func (b *Bridge) Snapshot(deviceID string) (Snapshot, bool) {
	dev, ok := b.devices[deviceID]
	if !ok {
		return nil, false
	}
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	if dev.snapshot == nil {
		return nil, false
	}
	return dev.snapshot.Clone(), true
}

// Device returns the status of one controller.
func (b *Bridge) Device(deviceID string) (DeviceStatus, bool) {
	dev, ok := b.devices[deviceID]
	if !ok {
		return DeviceStatus{}, false
	}
	return dev.status(), true
}

// DeviceStatuses returns the status of every controller in configuration
// order.
func (b *Bridge) DeviceStatuses() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.devices[id].status())
	}
	return out
}

func (d *deviceState) status() DeviceStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := DeviceStatus{
		ID:      d.cfg.ID,
		Name:    d.cfg.Name,
		Address: d.cfg.Conn.Address(),
		Mode:    d.cfg.Conn.Mode().String(),
	}
	if !d.lastPoll.IsZero() {
		t := d.lastPoll
		st.LastPoll = &t
		st.Healthy = d.lastErr == nil
	}
	if d.lastErr != nil {
		st.Error = d.lastErr.Error()
	}
	return st
}

// Submit merges a change into a controller endpoint's pending batch and
// flushes it. It reports AckAccepted when this call sent the batch and
// AckQueued when a flush already in progress will carry it.
func (b *Bridge) Submit(ctx context.Context, req SubmitRequest) (AckStatus, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	status, err := b.submit(ctx, req)

	if b.commandLog != nil {
		rec := CommandRecord{
			ID:       req.ID,
			DeviceID: req.DeviceID,
			Endpoint: req.Endpoint,
			Source:   req.Source,
			Change:   req.Change,
			Status:   status,
		}
		if err != nil {
			rec.Status = AckFailed
			rec.Error = err.Error()
		}
		// The command has already been applied or rejected; a logging
		// failure must not change its outcome.
		if logErr := b.commandLog.RecordCommand(context.WithoutCancel(ctx), rec); logErr != nil {
			b.logger.Warn("failed to record command", "command_id", req.ID, "error", logErr)
		}
	}

	return status, err
}

func (b *Bridge) submit(ctx context.Context, req SubmitRequest) (AckStatus, error) {
	dev, ok := b.devices[req.DeviceID]
	if !ok {
		return AckFailed, fmt.Errorf("%w: %s", ErrUnknownDevice, req.DeviceID)
	}
	class, err := ParseEndpointClass(req.Endpoint)
	if err != nil {
		return AckFailed, err
	}
	if len(req.Change) == 0 {
		return AckFailed, fmt.Errorf("%w: empty change", ErrInvalidChange)
	}

	flushed, err := dev.cfg.Conn.SubmitChange(ctx, class, Tree(req.Change))
	if err != nil {
		b.logger.Warn("change failed",
			"device_id", req.DeviceID,
			"endpoint", string(class),
			"error", err)
		return AckFailed, err
	}
	if !flushed {
		return AckQueued, nil
	}

	select {
	case dev.kick <- struct{}{}:
	default:
	}
	return AckAccepted, nil
}

// handleMQTTMessage routes an incoming message. Each message is handled on
// its own goroutine so that commands for the same endpoint can coalesce.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logger.Error("invalid topic format", "topic", topic)
		return
	}

	select {
	case <-b.done:
		return
	default:
	}

	// Last topic segment, used when the payload omits its id.
	var tail string
	if len(parts) > minTopicParts {
		tail = parts[len(parts)-1]
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	switch parts[1] {
	case "command":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleCommand(tail, body)
		}()
	case "request":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleRequest(tail, body)
		}()
	default:
		b.logger.Error("unknown message type", "type", parts[1])
	}
}

func (b *Bridge) handleCommand(topicDevice string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Error("failed to parse command", "error", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"endpoint", cmd.Endpoint)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	status, err := b.Submit(ctx, SubmitRequest{
		ID:       cmd.ID,
		DeviceID: cmd.DeviceID,
		Endpoint: cmd.Endpoint,
		Change:   cmd.Change,
		Source:   cmd.Source,
	})

	ack := NewAckMessage(cmd, status)
	if err != nil {
		ack = NewAckError(cmd, err)
	}
	b.publishAck(ack)
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to encode ack", "error", err)
		return
	}
	if ack.DeviceID == "" {
		b.logger.Warn("dropping ack without device id", "command_id", ack.CommandID)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logger.Error("failed to publish ack", "command_id", ack.CommandID, "error", err)
	}
}

func (b *Bridge) handleRequest(topicRequest string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Error("failed to parse request", "error", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicRequest
	}
	if req.RequestID == "" {
		b.logger.Warn("dropping request without id", "action", req.Action)
		return
	}

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionListDevices:
		resp = newResponse(req)
		resp.Success = true
		resp.Data = map[string]any{"devices": b.DeviceStatuses()}
	default:
		resp = newErrorResponse(req, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action %q", req.Action))
	}

	out, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("failed to encode response", "error", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), out, 1, false); err != nil {
		b.logger.Error("failed to publish response", "request_id", req.RequestID, "error", err)
	}
}

// handleReadState polls the controller and answers with the fresh snapshot.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if _, ok := b.devices[req.DeviceID]; !ok {
		return newErrorResponse(req, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	snap, err := b.Refresh(ctx, req.DeviceID)
	if err != nil {
		return newErrorResponse(req, ErrorCode(err), err.Error())
	}
	st, _ := b.Device(req.DeviceID)

	resp := newResponse(req)
	resp.Success = true
	resp.Data = map[string]any{
		"device_id": st.ID,
		"mode":      st.Mode,
		"address":   st.Address,
		"state":     snap,
	}
	return resp
}

func newResponse(req RequestMessage) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	}
}

func newErrorResponse(req RequestMessage, code, message string) ResponseMessage {
	resp := newResponse(req)
	resp.Error = &AckError{Code: code, Message: message}
	return resp
}
