package twilio

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDisabledWithoutCredentials(t *testing.T) {
	svc := NewSMSService("AC123", "", "+15550001111")
	assert.False(t, svc.Enabled())

	_, err := svc.Send(context.Background(), "+15550002222", "hello")
	assert.Error(t, err)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", TruncateBody("  short \n"))

	long := strings.Repeat("é", 400)
	got := TruncateBody(long)
	assert.Equal(t, maxSMSBody, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
