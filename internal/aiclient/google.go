package aiclient

import (
	"context"
	"fmt"
	"io"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/go-resty/resty/v2"
	"google.golang.org/api/option"

	"github.com/avantos/audiohook-bridge/internal/observability"
)

// GoogleConfig configures the Google-backed facade: ambient credentials
// (spec.md §4.9, "Authentication is ambient cloud credentials") plus the
// project/region pair a conversation profile resolves to.
type GoogleConfig struct {
	ProjectID    string
	Location     string
	APIKey       string
	ClientOptions []option.ClientOption
}

type googleFacade struct {
	logger observability.Logger
	cfg    GoogleConfig
	rest   *resty.Client

	speechClient *speech.Client
}

// NewGoogleFacade builds a Facade backed by cloud.google.com/go/speech
// for streaming recognition and a REST client for the conversation,
// participant, and summary endpoints that have no Go streaming SDK in
// this deployment's dependency set (see DESIGN.md).
func NewGoogleFacade(ctx context.Context, logger observability.Logger, cfg GoogleConfig) (Facade, error) {
	clientOpts := append([]option.ClientOption{}, cfg.ClientOptions...)
	if endpoint := SpeechEndpointForLocation(cfg.Location); endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
	}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}

	sc, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("aiclient: creating speech client: %w", err)
	}

	restClient := resty.New().
		SetBaseURL("https://" + EndpointForLocation(cfg.Location)).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		restClient.SetQueryParam("key", cfg.APIKey)
	}

	return &googleFacade{
		logger:       logger,
		cfg:          cfg,
		rest:         restClient,
		speechClient: sc,
	}, nil
}

func (g *googleFacade) GetConversationProfile(ctx context.Context, name string) (*ConversationProfile, error) {
	var profile ConversationProfile
	resp, err := g.rest.R().SetContext(ctx).SetResult(&profile).Get("/v2/" + name)
	if err != nil {
		return nil, fmt.Errorf("aiclient: get conversation profile: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("get conversation profile", resp)
	}
	profile.Name = name
	return &profile, nil
}

func (g *googleFacade) GetConversation(ctx context.Context, name string) (*Conversation, error) {
	var conv Conversation
	resp, err := g.rest.R().SetContext(ctx).SetResult(&conv).Get("/v2/" + name)
	if err != nil {
		return nil, fmt.Errorf("aiclient: get conversation: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, statusError("get conversation", resp)
	}
	conv.Name = name
	return &conv, nil
}

func (g *googleFacade) CreateConversation(ctx context.Context, profileName, conversationID string) (*Conversation, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", g.cfg.ProjectID, g.cfg.Location)
	body := map[string]interface{}{
		"conversationProfile": profileName,
	}
	var conv Conversation
	resp, err := g.rest.R().SetContext(ctx).
		SetBody(body).
		SetResult(&conv).
		SetQueryParam("conversationId", conversationID).
		Post("/v2/" + parent + "/conversations")
	if err != nil {
		return nil, fmt.Errorf("aiclient: create conversation: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("create conversation", resp)
	}
	if conv.Name == "" {
		conv.Name = fmt.Sprintf("%s/conversations/%s", parent, conversationID)
	}
	return &conv, nil
}

func (g *googleFacade) ListParticipants(ctx context.Context, conversationName string) ([]Participant, error) {
	var out struct {
		Participants []Participant `json:"participants"`
	}
	resp, err := g.rest.R().SetContext(ctx).SetResult(&out).Get("/v2/" + conversationName + "/participants")
	if err != nil {
		return nil, fmt.Errorf("aiclient: list participants: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("list participants", resp)
	}
	return out.Participants, nil
}

func (g *googleFacade) CreateParticipant(ctx context.Context, conversationName string, role ParticipantRole) (*Participant, error) {
	body := map[string]interface{}{"role": role}
	var participant Participant
	resp, err := g.rest.R().SetContext(ctx).SetBody(body).SetResult(&participant).
		Post("/v2/" + conversationName + "/participants")
	if err != nil {
		return nil, fmt.Errorf("aiclient: create participant: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("create participant", resp)
	}
	participant.Role = role
	return &participant, nil
}

func (g *googleFacade) CompleteConversation(ctx context.Context, name string) error {
	resp, err := g.rest.R().SetContext(ctx).Post("/v2/" + name + ":complete")
	if err != nil {
		return fmt.Errorf("aiclient: complete conversation: %w", err)
	}
	if resp.IsError() {
		return statusError("complete conversation", resp)
	}
	return nil
}

func (g *googleFacade) SuggestConversationSummary(ctx context.Context, name string) (*Summary, error) {
	var out struct {
		Summary struct {
			Text          string `json:"text"`
			TextSections  map[string]string `json:"textSections"`
		} `json:"summary"`
	}
	resp, err := g.rest.R().SetContext(ctx).SetResult(&out).
		Post("/v2/" + name + ":suggestConversationSummary")
	if err != nil {
		return nil, fmt.Errorf("aiclient: suggest conversation summary: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("suggest conversation summary", resp)
	}
	return &Summary{Text: out.Summary.Text}, nil
}

func (g *googleFacade) OpenRecognitionStream(ctx context.Context, opts StreamOptions) (RecognitionStream, error) {
	languages := opts.LanguageCodes
	if len(languages) == 0 {
		languages = []string{"en-US"}
	}
	model := opts.Model
	if model == "" {
		model = "long"
	}

	stream, err := g.speechClient.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("aiclient: opening streaming recognize: %w", err)
	}

	cfg := &speechpb.StreamingRecognizeRequest{
		Recognizer: RecognizerPath(g.cfg.ProjectID, g.cfg.Location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_MULAW,
							SampleRateHertz:   8000,
							AudioChannelCount: 1,
						},
					},
					Features: &speechpb.RecognitionFeatures{
						EnableAutomaticPunctuation: true,
						EnableWordConfidence:       true,
					},
					LanguageCodes: languages,
					Model:         model,
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults: true,
				},
			},
		},
	}
	if err := stream.Send(cfg); err != nil {
		return nil, fmt.Errorf("aiclient: sending streaming config: %w", err)
	}

	return &googleRecognitionStream{stream: stream}, nil
}

type googleRecognitionStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleRecognitionStream) SendAudio(chunk []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: chunk},
	})
}

func (s *googleRecognitionStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *googleRecognitionStream) Recv() (*RecognitionResult, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}

	results := resp.GetResults()
	if len(results) == 0 {
		return &RecognitionResult{}, nil
	}
	result := results[0]
	speechEnd := result.GetSpeechEndOffset()
	out := &RecognitionResult{
		SpeechEndOffsetMs: float64(speechEnd.GetSeconds())*1000 + float64(speechEnd.GetNanos())/1e6,
	}
	if alts := result.GetAlternatives(); len(alts) > 0 {
		out.Transcript = alts[0].GetTranscript()
	}
	if result.GetIsFinal() {
		out.IsFinal = true
		out.FinalOffsetMs = out.SpeechEndOffsetMs
	}
	return out, nil
}

func statusError(op string, resp *resty.Response) error {
	return fmt.Errorf("aiclient: %s: provider returned %d: %s", op, resp.StatusCode(), resp.String())
}
