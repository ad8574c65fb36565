// Package mqtt publishes JSON payloads below a topic root.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("client not connected")

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicRoot      string
	ConnectTimeout time.Duration
}

type Client struct {
	topicRoot string
	opts      *paho.ClientOptions
	client    paho.Client
	timeout   time.Duration
	logger    *zap.Logger
}

func NewClient(o Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	opts := paho.NewClientOptions().AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("connected", zap.String("broker", o.BrokerURL))
	})

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		topicRoot: strings.TrimSuffix(o.TopicRoot, "/"),
		opts:      opts,
		timeout:   timeout,
		logger:    logger,
	}
}

func (c *Client) Connect() error {
	c.client = paho.NewClient(c.opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("connect error: timed out after %s", c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect error: %w", err)
	}
	return nil
}

func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Publish sends payload as JSON to <topic root>/<topic>. Delivery errors are logged
// asynchronously.
func (c *Client) Publish(topic string, payload any, retained bool) error {
	if c.client == nil {
		return ErrNotConnected
	}

	scopedTopic, err := c.scoped(topic)
	if err != nil {
		return err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to encode payload for %s: %w", scopedTopic, err)
	}

	token := c.client.Publish(scopedTopic, 0, retained, payloadBytes)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("error publishing", zap.String("topic", scopedTopic), zap.Error(err))
		}
	}()

	return nil
}

func (c *Client) scoped(topic string) (string, error) {
	if len(topic) == 0 {
		return "", fmt.Errorf("topic is empty")
	}
	if topic[0] == '/' {
		return "", fmt.Errorf("expected relative topic (cannot begin with slash): %q", topic)
	}
	if c.topicRoot == "" {
		return topic, nil
	}
	return c.topicRoot + "/" + topic, nil
}
