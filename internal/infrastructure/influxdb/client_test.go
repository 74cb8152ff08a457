package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server
	mu    sync.Mutex
	lines []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "aircon",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func testSnapshot() map[string]any {
	return map[string]any{
		"aircons": map[string]any{
			"ac1": map[string]any{
				"info": map[string]any{
					"setTemp": 24.0,
					"state":   "on",
					"myZone":  1.0,
					"mode":    "cool",
				},
				"zones": map[string]any{
					"z02": map[string]any{"measuredTemp": 22.0, "setTemp": 23.0, "value": 80.0, "rssi": 40.0, "error": 0.0, "state": "closed"},
					"z01": map[string]any{"measuredTemp": 21.0, "setTemp": 22.0, "value": 100.0, "rssi": 45.0, "error": 1.0, "state": "open"},
				},
			},
		},
		"system": map[string]any{"name": "Living"},
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(context.Background(), testConfig(url))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteSnapshot(t *testing.T) {
	f := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteSnapshot("living", testSnapshot())
	client.Flush()

	lines := f.written()
	if len(lines) != 3 {
		t.Fatalf("wrote %d lines, want 3: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "aircon,aircon_id=ac1,device_id=living ") {
		t.Errorf("line 0 = %q, want aircon point", lines[0])
	}
	if !strings.HasPrefix(lines[1], "zone,aircon_id=ac1,device_id=living,zone_id=z01 ") {
		t.Errorf("line 1 = %q, want zone z01 first", lines[1])
	}
	if st := client.Stats(); st.PointsQueued != 3 || st.WriteErrors != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestWrite_AfterCloseIsNoop(t *testing.T) {
	f := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteSnapshot("living", testSnapshot())
	client.Flush()

	if lines := f.written(); len(lines) != 0 {
		t.Errorf("wrote %v after Close", lines)
	}
}

func TestSnapshotPoints(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	points := snapshotPoints("living", testSnapshot(), ts)

	got := make([]string, len(points))
	for i, p := range points {
		got[i] = write.PointToLineProtocol(p, time.Second)
	}

	want := []string{
		"aircon,aircon_id=ac1,device_id=living my_zone=1,on=1i,set_temp=24 1700000000\n",
		"zone,aircon_id=ac1,device_id=living,zone_id=z01 error=1,measured_temp=21,open=1i,rssi=45,set_temp=22,value=100 1700000000\n",
		"zone,aircon_id=ac1,device_id=living,zone_id=z02 error=0,measured_temp=22,open=0i,rssi=40,set_temp=23,value=80 1700000000\n",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSnapshotPoints_SkipsMalformed(t *testing.T) {
	tests := []struct {
		name     string
		snapshot map[string]any
	}{
		{"no aircons", map[string]any{"system": map[string]any{}}},
		{"aircon not a map", map[string]any{"aircons": map[string]any{"ac1": "x"}}},
		{"no numeric fields", map[string]any{"aircons": map[string]any{"ac1": map[string]any{
			"info":  map[string]any{"name": "AC"},
			"zones": map[string]any{"z01": map[string]any{"name": "Bed"}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if points := snapshotPoints("d", tt.snapshot, time.Now()); len(points) != 0 {
				t.Errorf("got %d points, want 0", len(points))
			}
		})
	}
}

func TestWriteErrors_Counted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, `{"code":"invalid","message":"bad point"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var reported []error
	client.SetOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	client.WriteSnapshot("living", testSnapshot())
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for client.Stats().WriteErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Stats().WriteErrors == 0 {
		t.Fatal("write error not counted")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) == 0 {
		t.Error("OnError callback not called")
	}
}
