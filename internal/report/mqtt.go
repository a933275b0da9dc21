package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	maxQoS            = 2
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
}

// tokenPublisher is the slice of pahomqtt.Client the publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTPublisher sends reports as JSON to one topic.
type MQTTPublisher struct {
	client tokenPublisher
	close  func()
	cfg    MQTTConfig
	logger *slog.Logger
}

// DialMQTT connects to cfg.Broker and returns a publisher bound to cfg.Topic.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if cfg.QoS > maxQoS {
		return nil, fmt.Errorf("mqtt: invalid QoS %d", cfg.QoS)
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(false)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newMQTTPublisher(client, cfg, logger)
	p.close = func() { client.Disconnect(disconnectQuiesce) }
	return p, nil
}

func newMQTTPublisher(client tokenPublisher, cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{client: client, cfg: cfg, logger: logger.With("component", "report")}
}

// Publish blocks until the broker acknowledges the report or ctx ends.
func (p *MQTTPublisher) Publish(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: encode report: %w", ErrPublishFailed, err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.logger.Debug("report published", "topic", p.cfg.Topic, "bytes", len(payload))
	return nil
}

func (p *MQTTPublisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
