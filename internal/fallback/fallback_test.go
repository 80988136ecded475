package fallback

import (
	"context"
	"testing"

	redismock "github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/avantos/audiohook-bridge/internal/observability"
)

func TestPublishSendsXAddToConfiguredStream(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := New(client, observability.NewNoop(), "conversation-event-stream")

	mock.Regexp().ExpectXAdd(&redis.XAddArgs{
		Stream: "conversation-event-stream",
		Values: map[string]interface{}{"envelope": `.*`},
	}).SetVal("1-0")

	err := p.Publish(context.Background(), Envelope{
		ConversationName:      "projects/p/conversations/c1",
		GenesysConversationID: "c1",
		Summary:               "caller asked about billing",
		SummaryCount:          1,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishReturnsErrorOnRedisFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := New(client, observability.NewNoop(), "conversation-event-stream")

	mock.Regexp().ExpectXAdd(&redis.XAddArgs{
		Stream: "conversation-event-stream",
		Values: map[string]interface{}{"envelope": `.*`},
	}).SetErr(redis.ErrClosed)

	err := p.Publish(context.Background(), Envelope{ConversationName: "projects/p/conversations/c1"})

	require.Error(t, err)
}
