// Package aiclient is the thin contract over the conversational-AI
// provider SDK that spec.md §4.9 calls for: conversation/participant
// CRUD, one streaming recognition RPC session at a time, a summary
// request, and conversation completion. Nothing in this package owns
// restart, look-back, or gating logic — that lives in
// internal/recognition, which drives the RecognitionStream this facade
// opens.
package aiclient

import (
	"context"
	"errors"

	"github.com/avantos/audiohook-bridge/pkg/utils"
)

// ErrNotFound is returned by GetConversation when the provider has no
// resource by that name yet — the orchestrator's cue to create it
// idempotently (spec.md §7, "ProviderNotFound").
var ErrNotFound = errors.New("aiclient: not found")

// ParticipantRole is one of the two roles a session always has exactly
// one of (spec.md §3, "Participant").
type ParticipantRole string

const (
	RoleHumanAgent ParticipantRole = "HUMAN_AGENT"
	RoleEndUser    ParticipantRole = "END_USER"
)

// Participant is an external reference to a conversation participant.
type Participant struct {
	Name string
	Role ParticipantRole
}

// ConversationProfile bundles recognition/suggestion/summarization
// settings at the provider (spec.md GLOSSARY).
type ConversationProfile struct {
	Name     string
	Language string
	Model    string
}

// Conversation is the provider-side conversation resource.
type Conversation struct {
	Name string
}

// Summary is the result of a SuggestConversationSummary call.
type Summary struct {
	Text string
}

// RecognitionResult is one interim or final response from an open
// recognition stream (spec.md §4.3, "Result handling").
type RecognitionResult struct {
	Transcript        string
	IsFinal           bool
	SpeechEndOffsetMs float64
	// FinalOffsetMs is only meaningful when IsFinal is true:
	// seconds*1000 + microseconds/1000 of the final result within the
	// current RPC session.
	FinalOffsetMs float64
}

// RecognitionStream is one bidirectional streaming recognition RPC
// session: an initial config request is sent implicitly by
// Facade.OpenRecognitionStream; callers then SendAudio for each chunk,
// CloseSend once (the "final empty request" in spec.md §4.3), and drain
// Recv until io.EOF or an error.
type RecognitionStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Recv() (*RecognitionResult, error)
}

// Default language/model used when a conversation profile's option bag
// does not override them.
const (
	DefaultLanguageCode = "en-US"
	DefaultModel        = "default"
)

// StreamOptions configures one recognition stream.
type StreamOptions struct {
	LanguageCodes []string
	Model         string
}

// StreamOptionsFromOption builds StreamOptions from a conversation
// profile's dotted-key option bag, falling back to the package defaults
// unless overridden via "listen.language"/"listen.model".
func StreamOptionsFromOption(opts utils.Option) StreamOptions {
	language := DefaultLanguageCode
	if v, err := opts.GetString("listen.language"); err == nil && v != "" {
		language = v
	}
	model := DefaultModel
	if v, err := opts.GetString("listen.model"); err == nil && v != "" {
		model = v
	}
	return StreamOptions{LanguageCodes: []string{language}, Model: model}
}

// Facade is the full provider contract spec.md §4.9 names.
type Facade interface {
	GetConversationProfile(ctx context.Context, name string) (*ConversationProfile, error)
	GetConversation(ctx context.Context, name string) (*Conversation, error)
	CreateConversation(ctx context.Context, profileName, conversationID string) (*Conversation, error)
	ListParticipants(ctx context.Context, conversationName string) ([]Participant, error)
	CreateParticipant(ctx context.Context, conversationName string, role ParticipantRole) (*Participant, error)
	OpenRecognitionStream(ctx context.Context, opts StreamOptions) (RecognitionStream, error)
	CompleteConversation(ctx context.Context, name string) error
	SuggestConversationSummary(ctx context.Context, name string) (*Summary, error)
}
