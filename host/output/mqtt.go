package output

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"loadcell/host/config"
)

const (
	defaultClientID = "loadcell-host"
	defaultTopic    = "loadcell"
)

// MQTTOutput publishes readings as JSON, one topic per sensor under
// the configured base topic.
type MQTTOutput struct {
	client    mqtt.Client
	baseTopic string
}

// NewMQTT connects to the broker described by cfg.
func NewMQTT(cfg *config.MQTTConfig) (*MQTTOutput, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt output requires configuration")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	return &MQTTOutput{client: client, baseTopic: topic}, nil
}

func (m *MQTTOutput) Publish(readings []Reading) error {
	for _, r := range readings {
		topic := m.baseTopic + "/" + r.Sensor

		payload := map[string]interface{}{
			"time": r.Time.UnixMilli(),
		}
		if r.Error != "" {
			payload["error"] = r.Error
		} else {
			payload["value"] = r.Value
			payload["raw"] = r.Counts
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		token := m.client.Publish(topic, 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}
