package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	// PubID prefixes the "name" attribute so subscriptions can filter by environment
	PubID string `mapstructure:"pub_id"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// EscalationMessage is the payload consumed by the email and in-app notification workers
type EscalationMessage struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	State          string    `json:"state"`
	AgentID        string    `json:"agent_id,omitempty"`
	Priority       int       `json:"priority"`
	Target         string    `json:"target,omitempty"`
	Email          string    `json:"email,omitempty"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	ThresholdSecs  int64     `json:"threshold_seconds"`
	Since          time.Time `json:"since"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	svc, err := NewPubSubServiceWithClient(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return svc, nil
}

// NewPubSubServiceWithClient uses an existing client and creates the topic if missing
func NewPubSubServiceWithClient(ctx context.Context, client *pubsub.Client, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("PubSub topic name is required")
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topicname", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
		logger.Base().Info("Topic created successfully", zap.String("topicname", cfg.TopicName))
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishEscalation publishes one escalation notification and waits for the server ack
func (p *PubSubService) PublishEscalation(ctx context.Context, msg EscalationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation message: %w", err)
	}

	namePrefix := strings.TrimSuffix(p.config.PubID, ":")
	if namePrefix != "" {
		namePrefix += ":"
	}

	message := &pubsub.Message{
		Attributes: map[string]string{
			"name":      fmt.Sprintf("%sescalation:%s", namePrefix, msg.ID),
			"tenant_id": msg.TenantID,
			"channel":   msg.Channel,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	if _, err := result.Get(ctx); err != nil {
		logger.Base().Error("Failed to publish escalation",
			zap.String("tenant_id", msg.TenantID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
		return fmt.Errorf("failed to publish escalation message: %w", err)
	}

	logger.Base().Info("Published escalation",
		zap.String("id", msg.ID),
		zap.String("tenant_id", msg.TenantID),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("channel", msg.Channel))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
