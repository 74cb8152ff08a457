package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) *url.URL {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
}

// buildClientOptions maps the mqtt section of the config onto paho.
//
// Handlers do not need in-order delivery: the bridge hands every command
// to its own goroutine, so paho may dispatch concurrently too.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker).String()).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers will as a retained QoS 1 message. Without an
// explicit will the broker announces the client's own health topic as
// offline.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, will Will) {
	if will.Topic == "" {
		will = Will{Topic: Topics{}.BridgeHealth(clientID), Payload: offlinePayload(clientID, time.Now())}
	}
	opts.SetBinaryWill(will.Topic, will.Payload, 1, true)
}

func offlinePayload(clientID string, at time.Time) []byte {
	b, _ := json.Marshal(map[string]string{
		"status":    "offline",
		"client_id": clientID,
		"reason":    "unexpected_disconnect",
		"timestamp": at.UTC().Format(time.RFC3339),
	})
	return b
}
