package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// publisher is the part of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes alerts as JSON to a broker topic, for the mobile
// push bridge to pick up.
type MQTTNotifier struct {
	topic  string
	qos    byte
	pub    publisher
	client mqtt.Client
}

// DialMQTT connects to the broker. Paho reconnects on its own afterwards.
func DialMQTT(cfg MQTTConfig) (*MQTTNotifier, error) {
	clientID := "faceguard-" + uuid.New().String()

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	n := NewMQTTNotifier(client, cfg.Topic, cfg.QoS)
	n.client = client
	return n, nil
}

func NewMQTTNotifier(pub publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{topic: topic, qos: qos, pub: pub}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

func (n *MQTTNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	token := n.pub.Publish(n.topic, n.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *MQTTNotifier) Close() error {
	if n.client != nil {
		n.client.Disconnect(250)
	}
	return nil
}
