// Package bus wraps an MQTT client as the agent's replication transport:
// hello/delta/anti-entropy topics per wire.TopicScheme, published and
// subscribed at least-once QoS.
package bus

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aas-deltasync/agent/internal/logging"
	"github.com/aas-deltasync/agent/internal/wire"
)

// defaultMQTTPort is used when a broker address omits a port, matching the
// reference implementation's fallback.
const defaultMQTTPort = 1883

// Handler receives the raw payload of a message delivered on topic.
type Handler func(topic string, payload []byte)

// Error reports a Transport-class failure constructing or using the bus.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("bus: %s: %s", e.Op, e.Msg)
}

// Bus is a thin wrapper around an MQTT client, dispatching inbound messages
// to per-topic-filter handlers registered with OnMessage.
type Bus struct {
	client mqtt.Client
	log    *logging.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// Dial connects to the broker identified by brokerURL (either "tcp://host:port"
// or a bare "host:port") using clientID, and returns a Bus ready for
// Subscribe/Publish. Connection loss triggers the paho client's own
// automatic-reconnect with backoff.
func Dial(brokerURL string, clientID string, log *logging.Logger) (*Bus, error) {
	host, port, err := parseBrokerAddress(brokerURL)
	if err != nil {
		return nil, err
	}

	b := &Bus{log: log, handlers: make(map[string][]Handler)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("bus: connection lost, reconnecting", "error", err)
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		b.dispatch(msg.Topic(), msg.Payload())
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, &Error{Op: "connect", Msg: token.Error().Error()}
	}

	return b, nil
}

// OnMessage registers handler to be invoked for every message whose topic
// matches filter (which may contain MQTT wildcards). Must be called before
// Subscribe(filter, ...) to guarantee no message is dropped.
func (b *Bus) OnMessage(filter string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[filter] = append(b.handlers[filter], handler)
}

// Subscribe subscribes to filter at least-once QoS.
func (b *Bus) Subscribe(filter string) error {
	token := b.client.Subscribe(filter, byte(wire.QoSAtLeastOnce), func(_ mqtt.Client, msg mqtt.Message) {
		b.dispatch(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return &Error{Op: "subscribe", Msg: token.Error().Error()}
	}
	return nil
}

// Publish publishes payload to topic at least-once QoS, without retain.
func (b *Bus) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, byte(wire.QoSAtLeastOnce), false, payload)
	if token.Wait() && token.Error() != nil {
		return &Error{Op: "publish", Msg: token.Error().Error()}
	}
	return nil
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (b *Bus) Close() {
	b.client.Disconnect(250)
}

func (b *Bus) dispatch(topic string, payload []byte) {
	b.mu.RLock()
	var matched []Handler
	for filter, handlers := range b.handlers {
		if topicMatches(filter, topic) {
			matched = append(matched, handlers...)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		go func(fn Handler) {
			defer func() { _ = recover() }()
			fn(topic, payload)
		}(h)
	}
}

// topicMatches reports whether topic satisfies an MQTT subscription filter
// containing '+' (single-level) and '#' (multi-level, trailing only)
// wildcards.
func topicMatches(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, fp := range fParts {
		if fp == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fp != "+" && fp != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}

// parseBrokerAddress accepts either a "tcp://host:port" URL or a bare
// "host:port" (or "host") address, defaulting to the standard MQTT port.
func parseBrokerAddress(input string) (string, int, error) {
	if strings.Contains(input, "://") {
		scheme, rest, _ := strings.Cut(input, "://")
		if scheme != "tcp" && scheme != "mqtt" {
			return "", 0, &Error{Op: "parse_broker_url", Msg: fmt.Sprintf("%s: unsupported scheme %q", input, scheme)}
		}
		return splitHostPort(input, rest)
	}
	return splitHostPort(input, input)
}

func splitHostPort(original, hostport string) (string, int, error) {
	parts := strings.Split(hostport, ":")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", 0, &Error{Op: "parse_broker_url", Msg: original + ": missing host"}
		}
		return parts[0], defaultMQTTPort, nil
	case 2:
		if parts[0] == "" {
			return "", 0, &Error{Op: "parse_broker_url", Msg: original + ": missing host"}
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, &Error{Op: "parse_broker_url", Msg: fmt.Sprintf("%s: invalid port %q", original, parts[1])}
		}
		return parts[0], port, nil
	default:
		return "", 0, &Error{Op: "parse_broker_url", Msg: original + ": too many ':' separators"}
	}
}
