// Package fallback implements the durable fallback publisher (spec.md
// §4.8): a best-effort sink for events whose subscriber could not be
// located, used only by the summarization ticker when no RoutingEntry
// exists. No Cloud Pub/Sub or Dialogflow Go SDK exists anywhere in the
// retrieval pack, so the durable topic is re-grounded on a Redis Stream
// via XADD (see DESIGN.md) — the only messaging-capable dependency the
// corpus actually carries.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/avantos/audiohook-bridge/internal/observability"
)

// Envelope is the durable-topic payload from spec.md §6: "payload is a
// JSON envelope with conversationName, genesysConversationId, summary,
// summaryCount."
type Envelope struct {
	ConversationName      string `json:"conversationName"`
	GenesysConversationID string `json:"genesysConversationId"`
	Summary               string `json:"summary"`
	SummaryCount          int    `json:"summaryCount"`
}

// Publisher writes envelopes to one configured durable stream.
type Publisher struct {
	client     *redis.Client
	logger     observability.Logger
	streamName string
}

// New builds a Publisher bound to streamName (spec.md §6, "one topic
// named by configuration").
func New(client *redis.Client, logger observability.Logger, streamName string) *Publisher {
	return &Publisher{client: client, logger: logger, streamName: streamName}
}

// Publish fires the envelope at the durable stream and blocks for the ack.
// Failure is logged, not retried (spec.md §4.8, "fire-and-forget with
// blocking wait for the publish ack; failure is logged, not retried").
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("fallback: marshal envelope: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamName,
		Values: map[string]interface{}{"envelope": body},
	}).Err()
	if err != nil {
		p.logger.Errorw("durable fallback publish failed", "stream", p.streamName, "error", err)
		return fmt.Errorf("fallback: xadd %s: %w", p.streamName, err)
	}
	return nil
}
