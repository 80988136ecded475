// Package protocol implements the Audiohook control-channel codec: typed
// JSON messages interleaved with raw binary audio frames over one
// WebSocket connection, with the sequence-number discipline spec.md §4.1
// requires.
package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Version is the only Audiohook protocol version this codec speaks.
const Version = "2"

// DefaultConversationID is the all-zero UUID that marks a probe open
// (spec.md §3, "Session").
const DefaultConversationID = "00000000-0000-0000-0000-000000000000"

// MessageType enumerates the control-channel message types.
type MessageType string

const (
	TypeOpen      MessageType = "open"
	TypeOpened    MessageType = "opened"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeResume    MessageType = "resume"
	TypeResumed   MessageType = "resumed"
	TypePaused    MessageType = "paused"
	TypeDiscarded MessageType = "discarded"
	TypeClose     MessageType = "close"
	TypeClosed    MessageType = "closed"
)

// Message is a decoded or to-be-encoded control-channel frame.
type Message struct {
	Version    string                 `json:"version"`
	Type       MessageType            `json:"type"`
	Seq        uint64                 `json:"seq"`
	ClientSeq  uint64                 `json:"clientseq"`
	ID         string                 `json:"id"`
	Parameters map[string]interface{} `json:"parameters"`
}

// MediaChannel names the two negotiated Audiohook audio roles.
const (
	ChannelExternal = "external" // customer
	ChannelInternal = "internal" // agent
)

// AudioFrame is a decoded binary frame: raw interleaved PCMU samples.
type AudioFrame struct {
	Data []byte
}

// ProtocolError marks a malformed frame that must be dropped without
// tearing down the session (spec.md §4.1, "Failure").
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Reason }

// Codec holds the monotonic sequence-number state for one session and
// the session identifier captured from the first inbound message that
// carries one (normally `open`).
type Codec struct {
	mu        sync.Mutex
	serverSeq uint64
	clientSeq uint64
	sessionID string
}

// New returns a Codec with no session bound yet.
func New() *Codec {
	return &Codec{}
}

// DecodeText parses a text frame as a control Message and records its
// seq as the new high-water ClientSeq. The session id is captured from
// the first message that carries one.
func (c *Codec) DecodeText(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed control frame: %v", err)}
	}

	c.mu.Lock()
	if msg.Seq > c.clientSeq {
		c.clientSeq = msg.Seq
	}
	if c.sessionID == "" && msg.ID != "" {
		c.sessionID = msg.ID
	}
	c.mu.Unlock()

	return &msg, nil
}

// DecodeBinary validates a binary frame as a two-channel interleave and
// returns it unparsed; demuxing is internal/audio's job.
func (c *Codec) DecodeBinary(raw []byte) (*AudioFrame, error) {
	if len(raw)%2 != 0 {
		return nil, &ProtocolError{Reason: "binary frame length is not a multiple of 2"}
	}
	return &AudioFrame{Data: raw}, nil
}

// next advances and returns the outbound seq, and the current high-water
// ClientSeq to echo back.
func (c *Codec) next() (seq, clientSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverSeq++
	return c.serverSeq, c.clientSeq
}

// SessionID returns the session identifier captured from the first
// inbound message that carries one, or "" if none has been observed yet.
func (c *Codec) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Codec) encode(typ MessageType, params map[string]interface{}) ([]byte, error) {
	seq, clientSeq := c.next()
	msg := Message{
		Version:    Version,
		Type:       typ,
		Seq:        seq,
		ClientSeq:  clientSeq,
		ID:         c.SessionID(),
		Parameters: params,
	}
	if msg.Parameters == nil {
		msg.Parameters = map[string]interface{}{}
	}
	return json.Marshal(msg)
}

// MediaItem describes one negotiated audio stream in the `opened`
// response (spec.md §4.1).
type MediaItem struct {
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Channels []string `json:"channels"`
	Rate     int      `json:"rate"`
}

// EncodeOpened builds the `opened` response declaring PCMU 8kHz two-role
// media, paused until the orchestrator is ready to receive audio.
func (c *Codec) EncodeOpened() ([]byte, error) {
	media := []MediaItem{{
		Type:     "audio",
		Format:   "PCMU",
		Channels: []string{ChannelExternal, ChannelInternal},
		Rate:     8000,
	}}
	return c.encode(TypeOpened, map[string]interface{}{
		"startPaused": true,
		"media":       media,
	})
}

// EncodeResume builds the `resume` message sent once the orchestrator
// either locates a live subscriber or gives up waiting (spec.md §4.4).
func (c *Codec) EncodeResume() ([]byte, error) {
	return c.encode(TypeResume, nil)
}

// EncodePong builds the `pong` reply to an inbound `ping`.
func (c *Codec) EncodePong() ([]byte, error) {
	return c.encode(TypePong, nil)
}

// EncodeClosed builds the `closed` message sent on session teardown.
func (c *Codec) EncodeClosed() ([]byte, error) {
	return c.encode(TypeClosed, nil)
}

// IsProbe reports whether an `open` message's conversationId parameter
// is the all-zero UUID. Parsed through uuid.Parse rather than compared
// as a raw string so that formatting variance (case, missing hyphens)
// in what the telephony platform sends still resolves to the same nil
// UUID. A missing, empty, or non-string conversationId is also treated
// as a probe.
func IsProbe(msg *Message) bool {
	v, ok := msg.Parameters["conversationId"]
	if !ok {
		return true
	}
	id, ok := v.(string)
	if !ok {
		return true
	}
	if id == "" {
		return true
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed == uuid.Nil
}

// ConversationID extracts the conversationId parameter from an `open`
// message, or "" if absent.
func ConversationID(msg *Message) string {
	v, ok := msg.Parameters["conversationId"]
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
