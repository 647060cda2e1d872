package twilio

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// maxSMSBody keeps escalation alerts within two concatenated segments
const maxSMSBody = 300

// SMSService sends escalation alerts as SMS through Twilio's messaging API
type SMSService struct {
	client  *twilio.RestClient
	from    string
	enabled bool
}

// NewSMSService creates a new SMS service.
// If accountSID, authToken or from is empty, the service will be disabled
func NewSMSService(accountSID, authToken, from string) *SMSService {
	if accountSID == "" || authToken == "" || from == "" {
		logger.Base().Warn("Twilio credentials not provided, SMS escalation disabled")
		return &SMSService{enabled: false}
	}

	return &SMSService{
		client:  twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		from:    from,
		enabled: true,
	}
}

// Enabled reports whether credentials were configured
func (s *SMSService) Enabled() bool {
	return s.enabled
}

// Send delivers body to the E.164 number to and returns the message SID
func (s *SMSService) Send(ctx context.Context, to, body string) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("twilio sms service is disabled")
	}
	if to == "" {
		return "", fmt.Errorf("sms recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(TruncateBody(body))

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		logger.Base().Error("Failed to send Twilio SMS", zap.String("to", to), zap.Error(err))
		return "", fmt.Errorf("failed to send sms: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	logger.Base().Info("Sent escalation SMS", zap.String("to", to), zap.String("sid", sid))
	return sid, nil
}

// TruncateBody shortens body to the SMS limit, marking the cut with an ellipsis
func TruncateBody(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= maxSMSBody {
		return body
	}
	return string(runes[:maxSMSBody-3]) + "..."
}
