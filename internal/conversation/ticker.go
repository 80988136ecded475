package conversation

import (
	"context"
	"time"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/broker"
	"github.com/avantos/audiohook-bridge/internal/fallback"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

// tickerParams bundles the per-conversation facts the ticker needs but
// does not own (spec.md §4.5).
type tickerParams struct {
	conversationName         string
	conversationNameStripped string
	genesysConversationID    string
	interval                 time.Duration
	isRunning                func() bool
}

// ticker is the summarization loop: one per real conversation, terminated
// by the orchestrator's shared context rather than its own flag.
type ticker struct {
	facade   aiclient.Facade
	broker   *broker.Bridge
	fallback *fallback.Publisher
	logger   observability.Logger
	params   tickerParams
	count    int
}

func newTicker(facade aiclient.Facade, brk *broker.Bridge, fb *fallback.Publisher, logger observability.Logger, params tickerParams) *ticker {
	return &ticker{facade: facade, broker: brk, fallback: fb, logger: logger, params: params}
}

// Run wakes every params.interval and, while the session is still running,
// requests a summary and routes it (spec.md §4.5). It returns when ctx is
// cancelled, which the orchestrator does on `close`.
func (t *ticker) Run(ctx context.Context) {
	tick := time.NewTicker(t.params.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !t.params.isRunning() {
				continue
			}
			t.fire(ctx)
		}
	}
}

func (t *ticker) fire(ctx context.Context) {
	summary, err := t.facade.SuggestConversationSummary(ctx, t.params.conversationName)
	if err != nil {
		t.logger.Warnw("summary request failed", "conversation", t.params.conversationName, "error", err)
		return
	}
	t.count++

	hubID, found, err := t.broker.Lookup(ctx, t.params.conversationNameStripped)
	if err != nil {
		t.logger.Warnw("broker lookup failed for summary, falling back to durable topic", "error", err)
		found = false
	}

	payload := map[string]interface{}{
		"conversationName":      t.params.conversationName,
		"genesysConversationId": t.params.genesysConversationID,
		"summary":               summary.Text,
		"summaryCount":          t.count,
	}

	if found {
		msg := broker.Message{
			DataType:         broker.DataTypeSummary,
			ConversationName: t.params.conversationNameStripped,
			Payload:          payload,
		}
		if err := t.broker.Publish(ctx, hubID, msg); err != nil {
			t.logger.Warnw("broker publish failed for summary", "error", err)
		}
		return
	}

	env := fallback.Envelope{
		ConversationName:      t.params.conversationName,
		GenesysConversationID: t.params.genesysConversationID,
		Summary:               summary.Text,
		SummaryCount:          t.count,
	}
	if err := t.fallback.Publish(ctx, env); err != nil {
		t.logger.Warnw("durable fallback publish failed for summary", "error", err)
	}
}
