// Package broker provides the watchdog's single logical connection to one of
// N configured message brokers, with topic conventions scoped by wall id.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// InboundMessage is delivered to the orchestrator's dispatch loop for every
// subscribed topic.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// ConnectionHandler is notified of connect/disconnect/switch lifecycle events.
type ConnectionHandler interface {
	OnConnected()
	OnDisconnected(err error)
	OnSwitched(from, to, reason string)
}

const (
	connectTimeout = 15 * time.Second
	reconnectDelay = 5 * time.Second
)

// Client is the watchdog's broker client. It owns exactly one active MQTT
// connection at a time and exposes typed helpers per topic class.
type Client struct {
	cfg     *config.Config
	log     zerolog.Logger
	handler ConnectionHandler

	mu         sync.Mutex
	active     mqtt.Client
	activeID   string
	wallID     string
	topics     Topics
	connected  bool

	messages chan InboundMessage
}

// NewClient builds a broker client for the given configuration. Connect must
// be called before publishing or subscribing.
func NewClient(cfg *config.Config, log zerolog.Logger, handler ConnectionHandler) *Client {
	return &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "broker").Logger(),
		handler:  handler,
		messages: make(chan InboundMessage, 256),
	}
}

// Messages returns the channel of inbound messages on subscribed topics.
func (c *Client) Messages() <-chan InboundMessage { return c.messages }

// Connect establishes the initial connection to the configured active broker,
// publishes retained online status with an LWT, and subscribes to inbound
// topics (spec 4.1 "Connect").
func (c *Client) Connect(ctx context.Context, wallID string) error {
	c.mu.Lock()
	c.wallID = wallID
	c.topics = NewTopics(wallID)
	brokerID := c.cfg.ActiveBroker
	c.mu.Unlock()

	return c.connectTo(ctx, brokerID)
}

func (c *Client) connectTo(ctx context.Context, brokerID string) error {
	bc, ok := c.cfg.Broker(brokerID)
	if !ok {
		return fmt.Errorf("broker: unknown broker id %q", brokerID)
	}

	topics := c.topics
	lwt, err := json.Marshal(protocol.StatusPayload{
		Status: "offline",
		WallID: c.wallID,
		Stream: protocol.StatusStreamField{Status: "stopped"},
	})
	if err != nil {
		return fmt.Errorf("broker: marshal LWT: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(bc.ServerURL).
		SetClientID(fmt.Sprintf("watchdog-%s", c.wallID)).
		SetUsername(bc.Username).
		SetPassword(bc.Password).
		SetWill(topics.Status(), string(lwt), QoSAtLeastOnce, true).
		SetAutoReconnect(true).
		SetConnectRetryInterval(reconnectDelay).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(mqtt.Client) { c.onConnect(topics) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.handler.OnDisconnected(err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker: connect to %s timed out", bc.Label)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: connect to %s: %w", bc.Label, err)
	}

	c.mu.Lock()
	c.active = client
	c.activeID = brokerID
	c.connected = true
	c.mu.Unlock()

	return nil
}

func (c *Client) onConnect(topics Topics) {
	online, err := json.Marshal(protocol.StatusPayload{
		Status:    "online",
		WallID:    c.wallID,
		Timestamp: nowMillis(),
		Stream:    protocol.StatusStreamField{Status: "stopped"},
	})
	if err == nil {
		c.publishRaw(topics.Status(), online, QoSAtLeastOnce, true)
	}

	c.subscribe(topics.CommandFilter(), QoSAtLeastOnce)
	c.subscribe(topics.Lease(), QoSAtLeastOnce)
	c.subscribe(topics.Control(), QoSAtLeastOnce)
	c.subscribe(topics.WebRTCJoin(), QoSAtLeastOnce)
	c.subscribe(topics.WebRTCAnswer(), QoSAtLeastOnce)
	c.subscribe(topics.WebRTCIce(), QoSAtLeastOnce)
	c.subscribe(topics.WebRTCLeave(), QoSAtLeastOnce)

	c.handler.OnConnected()
}

func (c *Client) subscribe(topic string, qos byte) {
	c.mu.Lock()
	client := c.active
	c.mu.Unlock()
	if client == nil {
		return
	}
	client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case c.messages <- InboundMessage{Topic: msg.Topic(), Payload: msg.Payload()}:
		default:
			c.log.Warn().Str("topic", msg.Topic()).Msg("inbound message queue full, dropping")
		}
	})
}

// SwitchBroker disconnects from the active broker (no synthetic offline
// publish — LWT semantics are the contract) and reconnects to a distinct
// target broker, per spec 4.1 "Switch".
func (c *Client) SwitchBroker(ctx context.Context, targetID, reason string) error {
	c.mu.Lock()
	from := c.activeID
	current := c.active
	c.mu.Unlock()

	if targetID == from {
		return fmt.Errorf("broker: already connected to %q", targetID)
	}
	if _, ok := c.cfg.Broker(targetID); !ok {
		return fmt.Errorf("broker: unknown broker id %q", targetID)
	}

	if current != nil {
		current.Disconnect(250)
	}

	if err := c.connectTo(ctx, targetID); err != nil {
		return err
	}

	c.handler.OnSwitched(from, targetID, reason)
	return nil
}

// Publish writes a payload to a topic with the given QoS/retain flags.
// Publishes on a disconnected client are silent no-ops, preventing a
// tight-loop error fanout while the broker is unreachable (spec 4.1 "Failure").
func (c *Client) Publish(topic string, payload any, qos byte, retain bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("marshal publish payload")
		return
	}
	c.publishRaw(topic, data, qos, retain)
}

// PublishRaw writes pre-encoded bytes to a topic (used for retained-empty
// clears where there is no payload struct to marshal).
func (c *Client) PublishRaw(topic string, data []byte, qos byte, retain bool) {
	c.publishRaw(topic, data, qos, retain)
}

func (c *Client) publishRaw(topic string, data []byte, qos byte, retain bool) {
	c.mu.Lock()
	client := c.active
	connected := c.connected
	c.mu.Unlock()

	if client == nil || !connected {
		return
	}
	client.Publish(topic, qos, retain, data)
}

// Topics exposes the connection's topic helper.
func (c *Client) Topics() Topics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics
}

// ActiveBrokerID returns the id of the currently connected broker.
func (c *Client) ActiveBrokerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect tears down the active connection, e.g. during shutdown.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.active
	c.connected = false
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
