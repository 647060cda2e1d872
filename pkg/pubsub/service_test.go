package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishEscalation(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "astra-test", option.WithGRPCConn(conn))
	require.NoError(t, err)

	svc, err := NewPubSubServiceWithClient(ctx, client, &PubSubConfig{ProjectID: "astra-test", TopicName: "routing-escalations", PubID: "beta:"})
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.PublishEscalation(ctx, EscalationMessage{
		TenantID:       "tenant-1",
		ConversationID: "c1",
		Channel:        "email",
		State:          "queued",
		Priority:       2,
		Email:          "lead@example.com",
	}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tenant-1", msgs[0].Attributes["tenant_id"])
	assert.Equal(t, "email", msgs[0].Attributes["channel"])
	assert.Contains(t, msgs[0].Attributes["name"], "beta:escalation:")

	var decoded EscalationMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "c1", decoded.ConversationID)
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.CreatedAt.IsZero())
}

func TestNewPubSubServiceRequiresProject(t *testing.T) {
	_, err := NewPubSubService(context.Background(), &PubSubConfig{TopicName: "x"})
	assert.Error(t, err)
}
