// Package conversation owns the per-WebSocket session lifecycle: the
// Audiohook state machine from spec.md §4.4 (C4), and the per-conversation
// summarization ticker from §4.5 (C5) in ticker.go.
package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/audio"
	"github.com/avantos/audiohook-bridge/internal/broker"
	"github.com/avantos/audiohook-bridge/internal/fallback"
	"github.com/avantos/audiohook-bridge/internal/observability"
	"github.com/avantos/audiohook-bridge/internal/protocol"
	"github.com/avantos/audiohook-bridge/internal/recognition"
	"github.com/avantos/audiohook-bridge/pkg/utils"
)

// State is one of the Audiohook session states spec.md §4.4 names.
type State string

const (
	StateInit    State = "INIT"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
)

// Transport is the thin send/close contract the orchestrator drives; the
// concrete WebSocket adapter (internal/httpapi) is responsible for
// serializing concurrent writes, since the await-subscriber task calls
// SendText from its own goroutine, independently of the transport's own
// read loop.
type Transport interface {
	SendText(data []byte) error
	Close() error
}

// Config bundles the tunables an Orchestrator needs from spec.md §6 plus
// the region derived from the conversation profile name.
type Config struct {
	Rate                    int
	MaxLookback             time.Duration
	ProjectID               string
	Location                string
	ConversationProfileName string
	AwaitSubscriberBudget   time.Duration
	AwaitSubscriberPoll     time.Duration
	SummaryInterval         time.Duration
	FallbackStreamName      string
	EventsBufferSize        int
}

// Orchestrator drives one WebSocket's Audiohook session (spec.md §4.4).
type Orchestrator struct {
	codec     *protocol.Codec
	facade    aiclient.Facade
	broker    *broker.Bridge
	fallback  *fallback.Publisher
	logger    observability.Logger
	cfg       Config
	transport Transport

	mu                       sync.Mutex
	state                    State
	conversationName         string
	conversationNameStripped string
	genesysConversationID    string
	customerStream           *audio.Stream
	agentStream              *audio.Stream
	events                   chan recognition.Event
	customerWorker           *recognition.Worker
	agentWorker              *recognition.Worker
	customerRunning          atomic.Bool
	agentRunning             atomic.Bool
	workerCtx                context.Context
	workerCancel             context.CancelFunc
	workerWG                 sync.WaitGroup
	completeCalled           bool
	framesObserved           uint64
}

// New builds an Orchestrator in StateInit, bound to one transport.
func New(codec *protocol.Codec, facade aiclient.Facade, brk *broker.Bridge, fb *fallback.Publisher, logger observability.Logger, cfg Config, transport Transport) *Orchestrator {
	return &Orchestrator{
		codec:     codec,
		facade:    facade,
		broker:    brk,
		fallback:  fb,
		logger:    logger,
		cfg:       cfg,
		transport: transport,
		state:     StateInit,
	}
}

// State reports the current Audiohook state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HandleText decodes and dispatches one control-channel frame. A malformed
// frame is logged and dropped without affecting the session (spec.md §4.1,
// "Failure").
func (o *Orchestrator) HandleText(ctx context.Context, raw []byte) {
	msg, err := o.codec.DecodeText(raw)
	if err != nil {
		o.logger.Warnw("dropping malformed control frame", "error", err)
		return
	}
	o.dispatch(ctx, msg)
}

// HandleBinary demuxes one binary audio frame onto the two role streams.
// Frames arriving before a real open or after close are dropped.
func (o *Orchestrator) HandleBinary(ctx context.Context, raw []byte) {
	frame, err := o.codec.DecodeBinary(raw)
	if err != nil {
		o.logger.Warnw("dropping malformed audio frame", "error", err)
		return
	}

	o.mu.Lock()
	customerStream, agentStream := o.customerStream, o.agentStream
	running := o.state == StateRunning
	o.mu.Unlock()
	if !running || customerStream == nil || agentStream == nil {
		return
	}

	customer, agent, err := audio.Demux(frame.Data)
	if err != nil {
		o.logger.Warnw("dropping unparseable audio frame", "error", err)
		return
	}
	customerStream.FillBuffer(customer)
	agentStream.FillBuffer(agent)

	n := atomic.AddUint64(&o.framesObserved, 1)
	if n%200 == 0 {
		o.logger.Debugw("audio frames processed", "count", n)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeOpen:
		o.onOpen(ctx, msg)
	case protocol.TypePaused:
		o.onPaused()
	case protocol.TypeResumed:
		o.onResumed()
	case protocol.TypeDiscarded:
		o.logger.Info("discarded received, no state change")
	case protocol.TypeClose:
		o.onClose(ctx)
	case protocol.TypePing:
		o.sendPong()
	default:
		o.logger.Warnw("dropping unsupported control message", "type", msg.Type)
	}
}

func (o *Orchestrator) onOpen(ctx context.Context, msg *protocol.Message) {
	o.mu.Lock()
	if o.state != StateInit {
		// A subsequent open after a real open is ignored (spec.md §4.4,
		// "guarded by the null-check on the open-state").
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if protocol.IsProbe(msg) {
		o.send(o.codec.EncodeOpened())
		return
	}

	o.startRealConversation(ctx, protocol.ConversationID(msg))
}

func (o *Orchestrator) startRealConversation(ctx context.Context, rawConversationID string) {
	canonicalID := aiclient.CanonicalConversationID(rawConversationID)
	name := aiclient.ConversationName(o.cfg.ProjectID, o.cfg.Location, canonicalID)
	strippedName := aiclient.StripLocation(name)

	profile, err := o.facade.GetConversationProfile(ctx, o.cfg.ConversationProfileName)
	if err != nil {
		o.logger.Warnw("failed to fetch conversation profile, continuing with defaults", "error", err)
		profile = &aiclient.ConversationProfile{}
	}

	if _, err := o.facade.GetConversation(ctx, name); err != nil {
		if errors.Is(err, aiclient.ErrNotFound) {
			if _, err := o.facade.CreateConversation(ctx, o.cfg.ConversationProfileName, canonicalID); err != nil {
				o.logger.Errorw("failed to create conversation", "conversation", name, "error", err)
			}
		} else {
			o.logger.Warnw("failed to look up conversation", "conversation", name, "error", err)
		}
	}
	o.ensureParticipants(ctx, name)

	o.mu.Lock()
	o.conversationName = name
	o.conversationNameStripped = strippedName
	o.genesysConversationID = aiclient.GenesysConversationID(name)
	o.customerStream = audio.NewStream(audio.RoleCustomer, o.cfg.Rate, o.cfg.MaxLookback)
	o.agentStream = audio.NewStream(audio.RoleAgent, o.cfg.Rate, o.cfg.MaxLookback)
	o.events = make(chan recognition.Event, eventsBuffer(o.cfg.EventsBufferSize))

	modelOpts := utils.Option{}.With("listen.language", profile.Language).With("listen.model", profile.Model)
	streamOpts := aiclient.StreamOptionsFromOption(modelOpts)
	o.customerWorker = recognition.New(audio.RoleCustomer, o.customerStream, o.facade, o.logger, streamOpts, o.events)
	o.agentWorker = recognition.New(audio.RoleAgent, o.agentStream, o.facade, o.logger, streamOpts, o.events)

	o.workerCtx, o.workerCancel = context.WithCancel(context.Background())
	workerCtx := o.workerCtx
	o.state = StateRunning
	o.mu.Unlock()

	o.spawnWorker(workerCtx, audio.RoleCustomer)
	o.spawnWorker(workerCtx, audio.RoleAgent)
	go o.consumeEvents(workerCtx)

	o.send(o.codec.EncodeOpened())

	go o.awaitSubscriberThenResume(workerCtx, strippedName)

	ticker := newTicker(o.facade, o.broker, o.fallback, o.logger, tickerParams{
		conversationName:         name,
		conversationNameStripped: strippedName,
		genesysConversationID:    o.genesysConversationID,
		interval:                 o.cfg.SummaryInterval,
		isRunning:                func() bool { return o.State() == StateRunning },
	})
	go ticker.Run(workerCtx)
}

func eventsBuffer(n int) int {
	if n <= 0 {
		return 64
	}
	return n
}

func (o *Orchestrator) ensureParticipants(ctx context.Context, conversationName string) {
	participants, err := o.facade.ListParticipants(ctx, conversationName)
	if err != nil {
		o.logger.Warnw("failed to list participants", "error", err)
		participants = nil
	}
	haveAgent, haveUser := false, false
	for _, p := range participants {
		switch p.Role {
		case aiclient.RoleHumanAgent:
			haveAgent = true
		case aiclient.RoleEndUser:
			haveUser = true
		}
	}
	if !haveAgent {
		if _, err := o.facade.CreateParticipant(ctx, conversationName, aiclient.RoleHumanAgent); err != nil {
			o.logger.Warnw("failed to create human agent participant", "error", err)
		}
	}
	if !haveUser {
		if _, err := o.facade.CreateParticipant(ctx, conversationName, aiclient.RoleEndUser); err != nil {
			o.logger.Warnw("failed to create end user participant", "error", err)
		}
	}
}

func (o *Orchestrator) spawnWorker(ctx context.Context, role audio.Role) {
	var running *atomic.Bool
	var w *recognition.Worker
	if role == audio.RoleCustomer {
		running, w = &o.customerRunning, o.customerWorker
	} else {
		running, w = &o.agentRunning, o.agentWorker
	}
	running.Store(true)
	o.workerWG.Add(1)
	go func() {
		defer o.workerWG.Done()
		defer running.Store(false)
		w.Run(ctx)
	}()
}

func (o *Orchestrator) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.events:
			o.handleRecognitionEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleRecognitionEvent(ctx context.Context, ev recognition.Event) {
	o.mu.Lock()
	stripped := o.conversationNameStripped
	o.mu.Unlock()
	if stripped == "" {
		return
	}

	hubID, found, err := o.broker.Lookup(ctx, stripped)
	if err != nil {
		o.logger.Warnw("broker lookup failed for recognition event", "error", err)
		return
	}
	if !found {
		o.logger.Debugw("dropping recognition event, no live subscriber", "role", ev.Role)
		return
	}

	msg := broker.Message{
		DataType:         broker.DataTypeSuggestion,
		ConversationName: stripped,
		Payload: map[string]interface{}{
			"role":       string(ev.Role),
			"transcript": ev.Result.Transcript,
			"isFinal":    ev.Result.IsFinal,
		},
	}
	if err := o.broker.Publish(ctx, hubID, msg); err != nil {
		o.logger.Warnw("broker publish failed for recognition event", "error", err)
	}
}

// awaitSubscriberThenResume waits up to cfg.AwaitSubscriberBudget for a
// RoutingEntry to appear for conversationNameStripped, then emits resume
// unconditionally (spec.md §4.4).
func (o *Orchestrator) awaitSubscriberThenResume(ctx context.Context, conversationNameStripped string) {
	deadline := time.NewTimer(o.cfg.AwaitSubscriberBudget)
	defer deadline.Stop()
	poll := time.NewTicker(o.cfg.AwaitSubscriberPoll)
	defer poll.Stop()

	for budgetLeft := true; budgetLeft; {
		if _, found, err := o.broker.Lookup(ctx, conversationNameStripped); err == nil && found {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			budgetLeft = false
		case <-poll.C:
		}
	}
	o.send(o.codec.EncodeResume())
}

func (o *Orchestrator) onPaused() {
	o.mu.Lock()
	customerStream, agentStream := o.customerStream, o.agentStream
	o.mu.Unlock()
	if customerStream != nil {
		customerStream.SetClosed(true)
	}
	if agentStream != nil {
		agentStream.SetClosed(true)
	}
}

func (o *Orchestrator) onResumed() {
	o.mu.Lock()
	customerStream, agentStream := o.customerStream, o.agentStream
	workerCtx := o.workerCtx
	o.mu.Unlock()
	if customerStream == nil || agentStream == nil {
		return
	}
	customerStream.SetClosed(false)
	agentStream.SetClosed(false)

	if !o.customerRunning.Load() {
		o.spawnWorker(workerCtx, audio.RoleCustomer)
	}
	if !o.agentRunning.Load() {
		o.spawnWorker(workerCtx, audio.RoleAgent)
	}
}

func (o *Orchestrator) onClose(ctx context.Context) {
	o.mu.Lock()
	switch o.state {
	case StateInit:
		o.state = StateDone
		o.mu.Unlock()
		o.send(o.codec.EncodeClosed())
		_ = o.transport.Close()
		return
	case StateRunning:
		customerStream, agentStream := o.customerStream, o.agentStream
		cancel := o.workerCancel
		name := o.conversationName
		alreadyCompleted := o.completeCalled
		o.completeCalled = true
		o.state = StateDone
		o.mu.Unlock()

		if customerStream != nil {
			customerStream.SetTerminate(true)
			customerStream.SetClosed(true)
		}
		if agentStream != nil {
			agentStream.SetTerminate(true)
			agentStream.SetClosed(true)
		}
		if cancel != nil {
			cancel() // stops the ticker and the event consumer too
		}

		o.send(o.codec.EncodeClosed())

		if !alreadyCompleted && name != "" {
			if err := o.facade.CompleteConversation(ctx, name); err != nil {
				o.logger.Warnw("best-effort complete_conversation failed", "conversation", name, "error", err)
			}
		}

		o.workerWG.Wait()
		_ = o.transport.Close()
		return
	default:
		o.mu.Unlock()
		return
	}
}

func (o *Orchestrator) sendPong() {
	o.send(o.codec.EncodePong())
}

func (o *Orchestrator) send(payload []byte, err error) {
	if err != nil {
		o.logger.Errorw("failed to encode outbound control message", "error", err)
		return
	}
	if err := o.transport.SendText(payload); err != nil {
		o.logger.Warnw("failed to send outbound control message", "error", err)
	}
}
