package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/ClareAI/astra-routing-service/pkg/pubsub"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultRepeatAfter = 15 * time.Minute
	webhookTimeout     = 5 * time.Second
)

// SMSSender delivers text alerts
type SMSSender interface {
	Enabled() bool
	Send(ctx context.Context, to, body string) (string, error)
}

// MessagePublisher hands email and in-app alerts to the notification workers
type MessagePublisher interface {
	PublishEscalation(ctx context.Context, msg pubsub.EscalationMessage) error
}

// Options configures the notifier; nil channels are skipped with a warning
type Options struct {
	SMS        SMSSender
	Publisher  MessagePublisher
	HTTPClient *http.Client
	Events     routing.EventSink
	// RatePerSecond and Burst bound deliveries across all channels
	RatePerSecond int
	Burst         int
	// RepeatAfter suppresses repeated alerts for the same breach
	RepeatAfter time.Duration
}

// Report summarizes one Notify call
type Report struct {
	Notified   int `json:"notified"`
	Suppressed int `json:"suppressed"`
	Deliveries int `json:"deliveries"`
	Failures   int `json:"failures"`
}

// Notifier dispatches escalation candidates to the tenant's configured channels
type Notifier struct {
	sms       SMSSender
	publisher MessagePublisher
	client    *http.Client
	events    routing.EventSink
	limiter   *rate.Limiter
	recent    *expirable.LRU[string, time.Time]
}

// NewNotifier creates a notifier
func NewNotifier(opts Options) *Notifier {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.RatePerSecond
	}
	if opts.RepeatAfter <= 0 {
		opts.RepeatAfter = DefaultRepeatAfter
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: webhookTimeout}
	}
	return &Notifier{
		sms:       opts.SMS,
		publisher: opts.Publisher,
		client:    opts.HTTPClient,
		events:    opts.Events,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		recent:    expirable.NewLRU[string, time.Time](10000, nil, opts.RepeatAfter),
	}
}

// Notify alerts on each candidate not already alerted within RepeatAfter. Delivery
// failures are collected and returned together; the rest of the batch still goes out.
func (n *Notifier) Notify(ctx context.Context, settings *domain.TenantRoutingSettings, candidates []domain.EscalationCandidate) (Report, error) {
	var report Report
	var errs []error

	for _, c := range candidates {
		key := breachKey(c)
		if _, seen := n.recent.Get(key); seen {
			report.Suppressed++
			continue
		}

		delivered := 0
		for _, channel := range c.Channels {
			if err := n.limiter.Wait(ctx); err != nil {
				return report, errors.Join(append(errs, err)...)
			}
			err := n.deliver(ctx, domain.NotificationChannel(channel), settings, c)
			if errors.Is(err, errChannelUnavailable) {
				logger.Warn(ctx, "Escalation channel not configured",
					zap.String("tenant_id", c.TenantID),
					zap.String("channel", channel))
				continue
			}
			if err != nil {
				report.Failures++
				errs = append(errs, fmt.Errorf("failed to deliver %s escalation for %s: %w", channel, c.ConversationID, err))
				continue
			}
			delivered++
			report.Deliveries++
		}

		if delivered == 0 && len(c.Channels) > 0 {
			continue
		}
		n.recent.Add(key, time.Now())
		report.Notified++
		n.publish(ctx, c)
	}

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

var errChannelUnavailable = errors.New("channel unavailable")

func (n *Notifier) deliver(ctx context.Context, channel domain.NotificationChannel, settings *domain.TenantRoutingSettings, c domain.EscalationCandidate) error {
	switch channel {
	case domain.ChannelSMS:
		if n.sms == nil || !n.sms.Enabled() || settings.EscalationPhone == "" {
			return errChannelUnavailable
		}
		_, err := n.sms.Send(ctx, settings.EscalationPhone, FormatAlert(c))
		return err
	case domain.ChannelEmail, domain.ChannelInApp:
		if n.publisher == nil {
			return errChannelUnavailable
		}
		if channel == domain.ChannelEmail && settings.EscalationEmail == "" {
			return errChannelUnavailable
		}
		return n.publisher.PublishEscalation(ctx, toMessage(channel, settings, c))
	case domain.ChannelWebhook:
		if settings.EscalationWebhookURL == "" {
			return errChannelUnavailable
		}
		return n.postWebhook(ctx, settings.EscalationWebhookURL, c)
	}
	return fmt.Errorf("unknown channel %q", channel)
}

func (n *Notifier) postWebhook(ctx context.Context, url string, c domain.EscalationCandidate) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Astra-Event", string(event.EscalationRaised))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) publish(ctx context.Context, c domain.EscalationCandidate) {
	if n.events == nil {
		return
	}
	evt := event.NewRoutingEvent(event.EscalationRaised, c.TenantID, c.ConversationID).WithAgent(c.AgentID).WithData(c)
	evt.Reason = fmt.Sprintf("%s for %s", c.State, c.Elapsed.Round(time.Second))
	n.events.Publish(ctx, evt)
}

// FormatAlert renders the one-line alert text used for SMS
func FormatAlert(c domain.EscalationCandidate) string {
	where := "waiting in queue"
	if c.State == domain.EscalationStateAssigned {
		where = fmt.Sprintf("awaiting reply from %s", c.AgentID)
	}
	return fmt.Sprintf("[Astra] Conversation %s (priority %d) %s for %s, SLA %s.",
		c.ConversationID, c.Priority, where, c.Elapsed.Round(time.Minute), c.Threshold)
}

func toMessage(channel domain.NotificationChannel, settings *domain.TenantRoutingSettings, c domain.EscalationCandidate) pubsub.EscalationMessage {
	msg := pubsub.EscalationMessage{
		TenantID:       c.TenantID,
		ConversationID: c.ConversationID,
		Channel:        string(channel),
		State:          string(c.State),
		AgentID:        c.AgentID,
		Priority:       c.Priority,
		Target:         c.Target,
		ElapsedSeconds: int64(c.Elapsed / time.Second),
		ThresholdSecs:  int64(c.Threshold / time.Second),
		Since:          c.Since,
	}
	if channel == domain.ChannelEmail {
		msg.Email = settings.EscalationEmail
	}
	return msg
}

func breachKey(c domain.EscalationCandidate) string {
	return fmt.Sprintf("%s:%s:%s:%d", c.TenantID, c.ConversationID, c.State, c.Since.UnixNano())
}
