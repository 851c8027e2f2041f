package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// RequestHandler is called for every registration request received over MQTT.
// The name is the last topic segment; err is set when the payload could not be decoded.
type RequestHandler func(name string, req *RegistrationRequest, err error)

// MQTTClient manages the broker connection and the request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	logger      *zap.Logger
	handler     RequestHandler
	isConnected bool
	cancel      context.CancelFunc
	mu          sync.RWMutex
}

// ResolveMQTTConfig applies MQTT_* environment overrides on top of cfg
func ResolveMQTTConfig(cfg MQTTConfig) MQTTConfig {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		cfg.PublishPrefix = v
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "meshicp"
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = "meshicp"
	}
	return cfg
}

// ConnectMQTT is NewMQTTClient followed by Start.
// With no broker configured MQTT is disabled and this returns nil, nil.
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger, handler RequestHandler) (*MQTTClient, error) {
	c := NewMQTTClient(cfg, logger, handler)
	if c == nil {
		return nil, nil
	}
	c.Start()
	return c, nil
}

// NewMQTTClient builds a client for the resolved configuration without connecting.
// It returns nil when no broker is configured.
// Nothing is subscribed, so handler cannot run, until Start is called.
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger, handler RequestHandler) *MQTTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = ResolveMQTTConfig(cfg)
	if cfg.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil
	}

	c := &MQTTClient{
		config:  cfg,
		logger:  logger,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c
}

// Start connects in the background with exponential backoff and subscribes on connect
func (c *MQTTClient) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.connectWithRetry(ctx)
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger, handler RequestHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  ResolveMQTTConfig(cfg),
		logger:  logger,
		handler: handler,
	}
}

// connectWithRetry connects to the broker, backing off from 1s up to 60s between attempts
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 0

	connect := func() error {
		c.logger.Info("connecting to MQTT broker", zap.String("broker", c.config.Broker))
		token := c.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("MQTT connection timeout")
		}
		return token.Error()
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("MQTT connection failed", zap.Error(err), zap.Duration("retry", wait))
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(eb, ctx), notify); err != nil {
		c.logger.Info("MQTT connection abandoned", zap.Error(err))
		return
	}
	c.logger.Info("connected to MQTT broker")
	c.setConnected(true)
}

// RequestTopic is the subscription filter for incoming registration requests
func (c *MQTTClient) RequestTopic() string {
	return c.config.PublishPrefix + "/requests/+"
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.handler == nil {
		return
	}

	topic := c.RequestTopic()
	token := client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	c.logger.Info("subscribed", zap.String("topic", topic))
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// handleRequest decodes a registration request and hands it to the handler
func (c *MQTTClient) handleRequest(_ mqtt.Client, msg mqtt.Message) {
	name := requestName(msg.Topic())
	payload := msg.Payload()
	c.logger.Debug("received registration request",
		zap.String("topic", msg.Topic()),
		zap.Int("bytes", len(payload)))

	var req RegistrationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.handler(name, nil, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Name == "" {
		req.Name = name
	}
	if err := req.Validate(); err != nil {
		c.handler(name, nil, err)
		return
	}
	c.handler(name, &req, nil)
}

// requestName returns the last segment of a topic
func requestName(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops any pending connection attempt and closes the connection
func (c *MQTTClient) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250) // 250ms quiesce time
	}
	c.setConnected(false)
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Config returns the resolved connection settings
func (c *MQTTClient) Config() MQTTConfig {
	return c.config
}
