package advantageair

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

// Published returns the messages published to topic.
func (m *MockMQTTClient) Published(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Deliver hands a message to the handler subscribed with pattern.
func (m *MockMQTTClient) Deliver(t *testing.T, pattern, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", pattern)
	}
	h(topic, payload)
}

type mockTelemetry struct {
	mu     sync.Mutex
	writes map[string]int
}

func (m *mockTelemetry) WriteSnapshot(deviceID string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writes == nil {
		m.writes = make(map[string]int)
	}
	m.writes[deviceID]++
}

func (m *mockTelemetry) count(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[deviceID]
}

type mockCommandLog struct {
	mu      sync.Mutex
	records []CommandRecord
	err     error
}

func (m *mockCommandLog) RecordCommand(_ context.Context, rec CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *mockCommandLog) Records() []CommandRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommandRecord, len(m.records))
	copy(out, m.records)
	return out
}

// modernController is a JSON controller whose state and write outcome
// tests can change.
type modernController struct {
	mu     sync.Mutex
	state  string
	reject bool
	down   bool
}

func (mc *modernController) set(state string) {
	mc.mu.Lock()
	mc.state = state
	mc.mu.Unlock()
}

func (mc *modernController) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mc.mu.Lock()
		state, reject, down := mc.state, mc.reject, mc.down
		mc.mu.Unlock()

		if down {
			hangUp(t, w)
			return
		}
		switch r.URL.Path {
		case "/getSystemData":
			_, _ = w.Write([]byte(state))
		case "/setAircon", "/setLights", "/setThings":
			if reject {
				_, _ = w.Write([]byte(`{"ack":false,"reason":"zone is constant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ack":true}`))
		default:
			http.NotFound(w, r)
		}
	}
}

type bridgeFixture struct {
	bridge *Bridge
	mqtt   *MockMQTTClient
	ctrl   *modernController
	fc     *fakeController
	tel    *mockTelemetry
	log    *mockCommandLog
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	ctrl := &modernController{state: modernSnapshotJSON}
	fc := newFakeController(t, ctrl.handler(t))
	f := &bridgeFixture{
		mqtt: NewMockMQTTClient(),
		ctrl: ctrl,
		fc:   fc,
		tel:  &mockTelemetry{},
		log:  &mockCommandLog{},
	}

	b, err := NewBridge(BridgeOptions{
		BridgeID:       "advantageair",
		Version:        "test",
		Devices:        []Device{{ID: "home", Name: "Home", Conn: fc.connection(t), PollInterval: time.Hour}},
		MQTTClient:     f.mqtt,
		Telemetry:      f.tel,
		CommandLog:     f.log,
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	f.bridge = b
	t.Cleanup(b.Stop)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewBridge_Validation(t *testing.T) {
	conn, err := NewConnection(Options{Host: "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"no mqtt", BridgeOptions{Devices: []Device{{ID: "a", Conn: conn}}}},
		{"no devices", BridgeOptions{MQTTClient: NewMockMQTTClient()}},
		{"empty id", BridgeOptions{MQTTClient: NewMockMQTTClient(), Devices: []Device{{Conn: conn}}}},
		{"no connection", BridgeOptions{MQTTClient: NewMockMQTTClient(), Devices: []Device{{ID: "a"}}}},
		{"duplicate", BridgeOptions{MQTTClient: NewMockMQTTClient(), Devices: []Device{{ID: "a", Conn: conn}, {ID: "a", Conn: conn}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() error = nil, want error")
			}
		})
	}
}

func TestBridge_StartPublishesState(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "state publish", func() bool { return len(f.mqtt.Published(StateTopic("home"))) > 0 })

	pub := f.mqtt.Published(StateTopic("home"))[0]
	if !pub.Retained || pub.QoS != 1 {
		t.Errorf("state publish qos=%d retained=%v, want 1 true", pub.QoS, pub.Retained)
	}
	var msg StateMessage
	if err := json.Unmarshal(pub.Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.DeviceID != "home" || msg.Mode != "modern" || msg.Protocol != Protocol {
		t.Errorf("state = %+v", msg)
	}
	if _, ok := msg.State.Aircons()["ac1"]; !ok {
		t.Errorf("state missing ac1: %v", msg.State)
	}

	health := f.mqtt.Published(HealthTopic())
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if first.Status != HealthStarting {
		t.Errorf("first health status = %s, want starting", first.Status)
	}

	f.bridge.Stop()
	health = f.mqtt.Published(HealthTopic())
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health status = %s, want stopping", last.Status)
	}
}

func TestBridge_RefreshPublishesOnlyOnChange(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	var notified []string
	var mu sync.Mutex
	f.bridge.OnSnapshot(func(id string, _ Snapshot) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		if _, err := f.bridge.Refresh(ctx, "home"); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	if got := len(f.mqtt.Published(StateTopic("home"))); got != 1 {
		t.Errorf("state publishes = %d, want 1", got)
	}

	f.ctrl.set(`{"aircons":{"ac1":{"info":{"state":"on"}}}}`)
	snap, err := f.bridge.Refresh(ctx, "home")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	info := snap.Aircons()["ac1"].(map[string]any)["info"].(map[string]any)
	if info["state"] != "on" {
		t.Errorf("state = %v, want on", info["state"])
	}
	if got := len(f.mqtt.Published(StateTopic("home"))); got != 2 {
		t.Errorf("state publishes = %d, want 2", got)
	}
	if got := f.tel.count("home"); got != 3 {
		t.Errorf("telemetry writes = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Errorf("listener calls = %v, want 2", notified)
	}
}

func TestBridge_RefreshUnknownDevice(t *testing.T) {
	f := newBridgeFixture(t)
	if _, err := f.bridge.Refresh(context.Background(), "nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Refresh() error = %v, want ErrUnknownDevice", err)
	}
}

func TestBridge_SnapshotIsCopy(t *testing.T) {
	f := newBridgeFixture(t)
	if _, ok := f.bridge.Snapshot("home"); ok {
		t.Fatal("Snapshot() ok before first poll")
	}
	if _, err := f.bridge.Refresh(context.Background(), "home"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap, ok := f.bridge.Snapshot("home")
	if !ok {
		t.Fatal("Snapshot() ok = false")
	}
	snap["system"] = "mutated"

	again, _ := f.bridge.Snapshot("home")
	if again["system"] == "mutated" {
		t.Error("Snapshot() returned shared state")
	}
}

func TestBridge_DeviceStatusAfterFailure(t *testing.T) {
	f := newBridgeFixture(t)

	st, _ := f.bridge.Device("home")
	if st.LastPoll != nil || st.Healthy {
		t.Errorf("status before poll = %+v", st)
	}

	f.ctrl.mu.Lock()
	f.ctrl.down = true
	f.ctrl.mu.Unlock()

	_, err := f.bridge.Refresh(context.Background(), "home")
	if !errors.Is(err, ErrNoValidResponse) {
		t.Fatalf("Refresh() error = %v, want ErrNoValidResponse", err)
	}

	st, _ = f.bridge.Device("home")
	if st.Healthy || st.LastPoll == nil || st.Error == "" {
		t.Errorf("status after failure = %+v", st)
	}

	status, reason := f.bridge.Health().determineStatus()
	if status != HealthDegraded || !strings.Contains(reason, "1 controller") {
		t.Errorf("determineStatus() = %s, %q", status, reason)
	}
}

func TestBridge_Submit(t *testing.T) {
	change := map[string]any{"ac1": map[string]any{"info": map[string]any{"state": "on"}}}

	tests := []struct {
		name    string
		req     SubmitRequest
		reject  bool
		want    AckStatus
		wantErr error
	}{
		{"accepted", SubmitRequest{DeviceID: "home", Endpoint: "aircon", Change: change}, false, AckAccepted, nil},
		{"plural endpoint", SubmitRequest{DeviceID: "home", Endpoint: "aircons", Change: change}, false, AckAccepted, nil},
		{"unknown device", SubmitRequest{DeviceID: "x", Endpoint: "aircon", Change: change}, false, AckFailed, ErrUnknownDevice},
		{"unknown endpoint", SubmitRequest{DeviceID: "home", Endpoint: "sensor", Change: change}, false, AckFailed, ErrUnknownEndpoint},
		{"empty change", SubmitRequest{DeviceID: "home", Endpoint: "aircon"}, false, AckFailed, ErrInvalidChange},
		{"rejected", SubmitRequest{DeviceID: "home", Endpoint: "aircon", Change: change}, true, AckFailed, ErrDeviceRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.ctrl.reject = tt.reject

			got, err := f.bridge.Submit(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("Submit() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Submit() = %s, want %s", got, tt.want)
			}

			recs := f.log.Records()
			if len(recs) != 1 {
				t.Fatalf("records = %d, want 1", len(recs))
			}
			if recs[0].Status != tt.want || recs[0].ID == "" {
				t.Errorf("record = %+v", recs[0])
			}
			if (recs[0].Error != "") != (tt.wantErr != nil) {
				t.Errorf("record error = %q", recs[0].Error)
			}
		})
	}
}

func TestBridge_SubmitCommandLogFailureIgnored(t *testing.T) {
	f := newBridgeFixture(t)
	f.log.err = errors.New("disk full")

	status, err := f.bridge.Submit(context.Background(), SubmitRequest{
		DeviceID: "home",
		Endpoint: "light",
		Change:   map[string]any{"a1": map[string]any{"state": "on"}},
	})
	if err != nil || status != AckAccepted {
		t.Errorf("Submit() = %s, %v, want accepted, nil", status, err)
	}
}

func TestBridge_MQTTCommand(t *testing.T) {
	f := newBridgeFixture(t)
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	payload := []byte(`{"id":"cmd-1","endpoint":"aircon","change":{"ac1":{"info":{"setTemp":22}}}}`)
	f.mqtt.Deliver(t, CommandSubscribeTopic(), CommandTopic("home"), payload)

	waitFor(t, "ack", func() bool { return len(f.mqtt.Published(AckTopic("home"))) > 0 })

	var ack AckMessage
	if err := json.Unmarshal(f.mqtt.Published(AckTopic("home"))[0].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "cmd-1" || ack.DeviceID != "home" || ack.Status != AckAccepted || ack.Error != nil {
		t.Errorf("ack = %+v", ack)
	}

	recs := f.log.Records()
	if len(recs) != 1 || recs[0].Source != "mqtt" {
		t.Errorf("records = %+v", recs)
	}

	var sawSet bool
	for _, r := range f.fc.Requests() {
		if strings.HasPrefix(r, "/setAircon?") {
			sawSet = true
		}
	}
	if !sawSet {
		t.Errorf("requests = %q, want a setAircon", f.fc.Requests())
	}
}

func TestBridge_MQTTCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  string
		wantCode string
	}{
		{"unknown device", CommandTopic("garage"), `{"id":"c","endpoint":"aircon","change":{"ac1":{}}}`, ErrCodeNotConfigured},
		{"bad endpoint", CommandTopic("home"), `{"id":"c","endpoint":"pool","change":{"x":1}}`, ErrCodeInvalidCommand},
		{"device from payload", CommandTopic("ignored"), `{"id":"c","device_id":"garage","endpoint":"aircon","change":{"ac1":{}}}`, ErrCodeNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			if err := f.bridge.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			var device string
			var cmd CommandMessage
			_ = json.Unmarshal([]byte(tt.payload), &cmd)
			device = cmd.DeviceID
			if device == "" {
				device = tt.topic[strings.LastIndex(tt.topic, "/")+1:]
			}

			f.mqtt.Deliver(t, CommandSubscribeTopic(), tt.topic, []byte(tt.payload))
			waitFor(t, "ack", func() bool { return len(f.mqtt.Published(AckTopic(device))) > 0 })

			var ack AckMessage
			if err := json.Unmarshal(f.mqtt.Published(AckTopic(device))[0].Payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want code %s", ack, tt.wantCode)
			}
		})
	}
}

func TestBridge_MQTTCommandMalformedIgnored(t *testing.T) {
	f := newBridgeFixture(t)
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.mqtt.Deliver(t, CommandSubscribeTopic(), CommandTopic("home"), []byte(`{not json`))
	f.bridge.Stop()

	if got := f.mqtt.Published(AckTopic("home")); len(got) != 0 {
		t.Errorf("acks = %d, want 0", len(got))
	}
}

func TestBridge_MQTTRequests(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantSuccess bool
		wantCode    string
		wantKey     string
	}{
		{"read state", `{"action":"read_state","device_id":"home"}`, true, "", "state"},
		{"list devices", `{"action":"list_devices"}`, true, "", "devices"},
		{"unknown device", `{"action":"read_state","device_id":"nope"}`, false, ErrCodeNotConfigured, ""},
		{"unknown action", `{"action":"reboot"}`, false, ErrCodeInvalidCommand, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			if err := f.bridge.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			f.mqtt.Deliver(t, RequestSubscribeTopic(), RequestTopic("req-1"), []byte(tt.payload))
			waitFor(t, "response", func() bool { return len(f.mqtt.Published(ResponseTopic("req-1"))) > 0 })

			var resp ResponseMessage
			if err := json.Unmarshal(f.mqtt.Published(ResponseTopic("req-1"))[0].Payload, &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.RequestID != "req-1" || resp.Success != tt.wantSuccess {
				t.Errorf("response = %+v", resp)
			}
			if tt.wantCode != "" && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want %s", resp.Error, tt.wantCode)
			}
			if tt.wantKey != "" {
				if _, ok := resp.Data[tt.wantKey]; !ok {
					t.Errorf("data = %v, want key %s", resp.Data, tt.wantKey)
				}
			}
		})
	}
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	f := newBridgeFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.bridge.Run(ctx) }()

	waitFor(t, "first poll", func() bool { return f.tel.count("home") > 0 })
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return")
	}
}
