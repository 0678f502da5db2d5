package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/einoj/muskrat/internal/config"
	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/logic/sensor"
)

// ConnectTimeout bounds the initial broker connection.
const ConnectTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge a frame in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// publisher is the part of paho.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each frame as JSON to <prefix>/telemetry.
type MQTTSink struct {
	client  publisher
	topic   string
	timeout time.Duration
}

// NewMQTTSink connects to cfg.Broker.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	server := cfg.Broker
	if !strings.Contains(server, "://") {
		server = "tcp://" + server
	}
	opts := paho.NewClientOptions().
		AddBroker(server).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(ConnectTimeout)
	client := paho.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", server)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server, err)
	}
	debug.Info("MQTT telemetry connected to %s", server)
	return newMQTTSink(client, cfg.TopicPrefix), nil
}

func newMQTTSink(client publisher, prefix string) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   strings.TrimSuffix(prefix, "/") + "/telemetry",
		timeout: time.Second,
	}
}

// Topic returns the topic frames are published to.
func (s *MQTTSink) Topic() string { return s.topic }

func (s *MQTTSink) Report(f sensor.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
