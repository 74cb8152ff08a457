package advantageair

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeController records every request and hands it to a test handler.
type fakeController struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []string
}

func newFakeController(t *testing.T, handler http.HandlerFunc) *fakeController {
	t.Helper()
	fc := &fakeController{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.requests = append(fc.requests, r.URL.RequestURI())
		fc.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

// Requests returns the request URIs seen so far, in arrival order.
func (fc *fakeController) Requests() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]string, len(fc.requests))
	copy(out, fc.requests)
	return out
}

// connection returns a Connection to the fake controller with short
// delays. Keep-alives are off so a hung-up request is never replayed by
// the HTTP transport.
func (fc *fakeController) connection(t *testing.T) *Connection {
	t.Helper()
	u, err := url.Parse(fc.srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	conn, err := NewConnection(Options{
		Host:           u.Hostname(),
		Port:           port,
		Retry:          3,
		RequestTimeout: 500 * time.Millisecond,
		RetryDelay:     10 * time.Millisecond,
		CoalesceWindow: 5 * time.Millisecond,
		HTTPClient:     &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	})
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	return conn
}

// hangUp closes the client connection without writing a response.
func hangUp(t *testing.T, w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Error("response writer does not support hijacking")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Errorf("hijack: %v", err)
		return
	}
	conn.Close()
}

const legacyAck = `<?xml version="1.0" encoding="UTF-8"?><iZS10.3><ack>1</ack></iZS10.3>`

func legacySystemXML(authenticated string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<iZS10.3>
  <request>getSystemData</request>
  <authenticated>` + authenticated + `</authenticated>
  <mac>00:1e:c0:4a:11:22</mac>
  <system>
    <name>Home</name>
    <MyAppRev>10.3.104</MyAppRev>
    <unitcontrol>
      <airconOnOff>1</airconOnOff>
      <fanSpeed>3</fanSpeed>
      <mode>2</mode>
      <centralDesiredTemp>22.5</centralDesiredTemp>
      <unitControlTempsSetting>1</unitControlTempsSetting>
      <numberOfZones>2</numberOfZones>
    </unitcontrol>
  </system>
</iZS10.3>`
}

const legacyZonesXML = `<?xml version="1.0" encoding="UTF-8"?>
<iZS10.3>
  <request>getZoneData</request>
  <zone1>
    <name>Living</name>
    <setting>1</setting>
    <userPercentSetting>80</userPercentSetting>
    <actualTemp>23.7</actualTemp>
    <desiredTemp>21.0</desiredTemp>
    <RFstrength>40</RFstrength>
    <minDamper>0</minDamper>
    <maxDamper>100</maxDamper>
    <hasMotorError>0</hasMotorError>
    <hasLowBatt>1</hasLowBatt>
  </zone1>
  <zone2>
    <name>Bed 1</name>
    <setting>0</setting>
    <userPercentSetting>50</userPercentSetting>
    <actualTemp>19.2</actualTemp>
    <desiredTemp>20</desiredTemp>
    <RFstrength>35</RFstrength>
    <minDamper>5</minDamper>
    <maxDamper>90</maxDamper>
    <hasMotorError>0</hasMotorError>
    <hasLowBatt>0</hasLowBatt>
  </zone2>
</iZS10.3>`

// legacySnapshotJSON is the normalised form of legacySystemXML and
// legacyZonesXML.
const legacySnapshotJSON = `{
  "aircons": {
    "ac1": {
      "info": {
        "climateControlModeIsRunning": false,
        "countDownToOff": 0,
        "countDownToOn": 0,
        "fan": "high",
        "filterCleanStatus": 0,
        "freshAirStatus": "off",
        "mode": "heat",
        "myZone": 1,
        "name": "Home",
        "setTemp": 22,
        "state": "on"
      },
      "zones": {
        "z01": {
          "error": 1, "maxDamper": 100, "measuredTemp": 23, "minDamper": 0,
          "motion": 0, "motionConfig": 0, "name": "Living", "number": 1,
          "rssi": 40, "setTemp": 21, "state": "open", "type": 1, "value": 80
        },
        "z02": {
          "error": 0, "maxDamper": 90, "measuredTemp": 19, "minDamper": 5,
          "motion": 0, "motionConfig": 0, "name": "Bed 1", "number": 2,
          "rssi": 35, "setTemp": 20, "state": "closed", "type": 1, "value": 50
        }
      }
    }
  },
  "system": {
    "hasAircons": true,
    "hasLights": false,
    "hasSensors": false,
    "hasThings": false,
    "hasThingsBOG": false,
    "hasThingsLight": false,
    "needsUpdate": false,
    "name": "Home",
    "rid": "00:1e:c0:4a:11:22",
    "sysType": "e-zone",
    "myAppRev": "10.3.104"
  }
}`

const modernSnapshotJSON = `{"aircons":{"ac1":{"info":{"state":"off","mode":"cool","setTemp":24},"zones":{"z01":{"state":"open","value":100}}}},"myLights":{"lights":{"a1":{"id":"a1","state":"off"}}},"system":{"name":"Flat","rid":"abc"}}`

// legacyHandler serves a legacy controller. Set requests are acknowledged.
func legacyHandler(t *testing.T, authenticated string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getSystemData":
			_, _ = w.Write([]byte(legacySystemXML(authenticated)))
		case "/login":
			if r.URL.Query().Get("password") != "password" {
				t.Errorf("login password = %q", r.URL.Query().Get("password"))
			}
			_, _ = w.Write([]byte(`<?xml version="1.0"?><iZS10.3><authenticated>1</authenticated></iZS10.3>`))
		case "/getZoneData":
			_, _ = w.Write([]byte(legacyZonesXML))
		case "/setSystemData", "/setZoneData":
			_, _ = w.Write([]byte(legacyAck))
		default:
			http.NotFound(w, r)
		}
	}
}
