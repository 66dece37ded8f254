// Package notify pushes analytics summaries to live dashboards over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ukydev/fleet-dashboard/internal/analytics"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "fleet"

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the payload published for each summary.
type Message struct {
	AccountID          string            `json:"accountId"`
	Summary            analytics.Summary `json:"summary"`
	UtilizationPercent int               `json:"utilizationPercent"`
	GeneratedAt        time.Time         `json:"generatedAt"`
}

// MQTTPublisher publishes retained analytics summaries, one topic per
// account, so a dashboard that subscribes late still gets the latest one.
type MQTTPublisher struct {
	client publisher
	prefix string
}

// Topic returns the analytics topic for an account.
func Topic(prefix, accountID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s/%s/analytics", prefix, accountID)
}

// ConnectMQTT connects to broker and returns a publisher for it.
func ConnectMQTT(broker, clientID, prefix string) (*MQTTPublisher, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("mqtt connect %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return NewMQTTPublisher(client, prefix), client, nil
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client publisher, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix}
}

// PublishAnalytics sends the summary with QoS 1 and waits for the broker.
func (p *MQTTPublisher) PublishAnalytics(ctx context.Context, accountID string, summary analytics.Summary) error {
	payload, err := json.Marshal(Message{
		AccountID:          accountID,
		Summary:            summary,
		UtilizationPercent: summary.UtilizationPercent(),
		GeneratedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}

	token := p.client.Publish(Topic(p.prefix, accountID), 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("mqtt publish %s: timed out", accountID)
	}
	return token.Error()
}
