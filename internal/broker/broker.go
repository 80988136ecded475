// Package broker implements the shared key/value routing table and
// pub/sub channel space spec.md §4.6 describes: a conversation's
// location-stripped name maps to the hub id currently holding its live
// subscriber, and events for that conversation are published onto
// "{hub_id}:{conversation_name}". Grounded on the Lua-script atomic
// idiom in the source's RTP port allocator, adapted from a set pool to
// a single routing key with an expiring TTL.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/avantos/audiohook-bridge/internal/observability"
)

// DataType tags a broker envelope's payload shape.
type DataType string

const (
	DataTypeSummary    DataType = "conversation-summarization-received"
	DataTypeSuggestion DataType = "human-agent-assistant-event"
)

// Message is the BrokerMessage envelope from spec.md §3: conversation_name
// is always the location-stripped canonical form.
type Message struct {
	DataType         DataType               `json:"data_type"`
	ConversationName string                 `json:"conversation_name"`
	Payload          map[string]interface{} `json:"payload"`
}

// getRefreshScript atomically reads a routing key and, if present,
// refreshes its TTL — the Open Question decision in spec.md §9 to harden
// orphaned entries without giving up last-writer-wins semantics.
var getRefreshScript = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if v then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return v
`)

func routingKey(conversationNameStripped string) string {
	return "route:" + conversationNameStripped
}

func channelName(hubID, conversationNameStripped string) string {
	return fmt.Sprintf("%s:%s", hubID, conversationNameStripped)
}

// Bridge owns the routing table and the publish/subscribe bridge atop one
// Redis client. It never holds a lock across a network call (spec.md §5).
type Bridge struct {
	client *redis.Client
	logger observability.Logger
	ttl    time.Duration

	// lookupGroup collapses concurrent Lookup calls for the same
	// conversation into one Redis round-trip: the recognition event
	// consumer, the summarization ticker, and the await-subscriber task
	// all resolve the same routing key independently.
	lookupGroup singleflight.Group
}

// New builds a Bridge. ttl is the routing-entry expiry from spec.md §9's
// decided Open Question; it is refreshed on every successful lookup and
// on every Join.
func New(client *redis.Client, logger observability.Logger, ttl time.Duration) *Bridge {
	return &Bridge{client: client, logger: logger, ttl: ttl}
}

// Join records that hubID now holds the live subscriber for
// conversationNameStripped, last-writer-wins (spec.md §3, "RoutingEntry").
func (b *Bridge) Join(ctx context.Context, conversationNameStripped, hubID string) error {
	if err := b.client.Set(ctx, routingKey(conversationNameStripped), hubID, b.ttl).Err(); err != nil {
		return fmt.Errorf("broker: join %s: %w", conversationNameStripped, err)
	}
	return nil
}

// Leave deletes the routing entry, the normal reclaim path on
// leave-conversation or disconnect (spec.md §4.7).
func (b *Bridge) Leave(ctx context.Context, conversationNameStripped string) error {
	if err := b.client.Del(ctx, routingKey(conversationNameStripped)).Err(); err != nil {
		return fmt.Errorf("broker: leave %s: %w", conversationNameStripped, err)
	}
	return nil
}

// Lookup resolves the hub id currently holding conversationNameStripped's
// subscriber, if any, refreshing its TTL on a hit.
func (b *Bridge) Lookup(ctx context.Context, conversationNameStripped string) (hubID string, found bool, err error) {
	v, err, _ := b.lookupGroup.Do(conversationNameStripped, func() (interface{}, error) {
		res, err := getRefreshScript.Run(ctx, b.client, []string{routingKey(conversationNameStripped)}, int(b.ttl.Seconds())).Result()
		if err == redis.Nil {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("broker: lookup %s: %w", conversationNameStripped, err)
		}
		s, _ := res.(string)
		return s, nil
	})
	if err != nil {
		return "", false, err
	}
	hubID, _ = v.(string)
	if hubID == "" {
		return "", false, nil
	}
	return hubID, true, nil
}

// Publish emits an envelope to the channel owned by hubID for
// conversationNameStripped. The caller must have already resolved hubID
// via Lookup (spec.md §4.6, "the caller must have already resolved the
// hub identifier").
func (b *Bridge) Publish(ctx context.Context, hubID string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(hubID, msg.ConversationName), body).Err(); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", hubID, err)
	}
	return nil
}

// PublishSuggestion implements the analysis-response amplification
// supplemented feature (SPEC_FULL.md item 1): resolve the hub holding
// conversationName's subscriber and publish a human-agent-assistant-event
// envelope carrying payload. A miss is not an error — there may simply be
// no live subscriber yet — and is logged at debug level.
func (b *Bridge) PublishSuggestion(ctx context.Context, conversationNameStripped string, payload map[string]interface{}) error {
	hubID, found, err := b.Lookup(ctx, conversationNameStripped)
	if err != nil {
		return err
	}
	if !found {
		b.logger.Debugw("no subscriber for suggestion amplification", "conversation", conversationNameStripped)
		return nil
	}
	return b.Publish(ctx, hubID, Message{
		DataType:         DataTypeSuggestion,
		ConversationName: conversationNameStripped,
		Payload:          payload,
	})
}

// Subscribe pattern-subscribes to every channel owned by ownHubID
// ("{own_hub_id}:*", spec.md §4.6) and decodes each message onto the
// returned channel. It closes the returned channel and the underlying
// subscription when ctx is done.
func (b *Bridge) Subscribe(ctx context.Context, ownHubID string) <-chan Message {
	pubsub := b.client.PSubscribe(ctx, ownHubID+":*")
	out := make(chan Message, 32)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					b.logger.Warnw("dropping malformed broker envelope", "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
