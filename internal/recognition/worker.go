// Package recognition drives one role's restartable streaming
// recognition RPC against the conversational-AI facade: look-back
// replay across restarts, the provider duration-cap half-close, and the
// error taxonomy spec.md §4.3 and §7 describe.
package recognition

import (
	"context"
	"errors"
	"io"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/audio"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

// minTranscriptLen is the shortest transcript worth forwarding
// (spec.md §4.3, "Result handling").
const minTranscriptLen = 2

// Event is one forwarded recognition result, tagged with its role.
type Event struct {
	Role   audio.Role
	Result aiclient.RecognitionResult
}

// Worker owns one role's stream and drives RPC sessions against it until
// Stream.Terminate() is observed.
type Worker struct {
	role       audio.Role
	stream     *audio.Stream
	facade     aiclient.Facade
	logger     observability.Logger
	streamOpts aiclient.StreamOptions
	events     chan<- Event
}

// New builds a Worker for one role.
func New(role audio.Role, stream *audio.Stream, facade aiclient.Facade, logger observability.Logger, opts aiclient.StreamOptions, events chan<- Event) *Worker {
	return &Worker{
		role:       role,
		stream:     stream,
		facade:     facade,
		logger:     logger.With("role", string(role)),
		streamOpts: opts,
		events:     events,
	}
}

// Run is the outer loop of spec.md §4.3: "while not terminate, while not
// closed, invoke one RPC session." It returns once the stream is closed
// (the orchestrator runs the same Worker again on `resumed`, spec.md §4.4)
// or terminated (session teardown).
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || w.stream.Terminate() || w.stream.Closed() {
			return
		}
		w.runSession(ctx)
	}
}

// runSession drives exactly one bidirectional RPC session: replay
// look-back, stream new chunks until the stream closes/terminates or the
// provider ends the session, then advance the restart boundary.
func (w *Worker) runSession(ctx context.Context) {
	stream, err := w.facade.OpenRecognitionStream(ctx, w.streamOpts)
	if err != nil {
		w.logger.Errorw("failed to open recognition stream", "error", err)
		w.stream.SetClosed(true)
		return
	}

	if lookback := w.stream.LookbackPayload(); len(lookback) > 0 {
		if err := stream.SendAudio(lookback); err != nil {
			w.logger.Warnw("failed to send look-back replay", "error", err)
			w.stream.SetClosed(true)
			return
		}
	}

	recvDone := make(chan struct{})
	var sawFinal bool
	go func() {
		defer close(recvDone)
		sawFinal = w.drainResults(stream)
	}()

	w.sendLoop(ctx, stream)
	_ = stream.CloseSend()

	<-recvDone

	if sawFinal {
		w.stream.AdvanceAfterFinal()
	} else {
		// Any session end without a final (OutOfRange included) advances by the last speech_end_offset, which may replay a few hundred ms twice.
		w.stream.AdvanceAfterOutOfRangeWithoutFinal()
	}
}

// sendLoop pulls chunks from the stream and forwards them to the RPC
// until the stream closes/terminates or the queue times out
// (spec.md §4.3 (e)).
func (w *Worker) sendLoop(ctx context.Context, stream aiclient.RecognitionStream) {
	for {
		if ctx.Err() != nil || w.stream.Closed() || w.stream.Terminate() || w.stream.IsFinal() {
			return
		}
		chunk, ok := w.stream.NextChunk()
		if !ok {
			return
		}
		if err := stream.SendAudio(chunk); err != nil {
			w.logger.Warnw("failed to send audio chunk", "error", err)
			return
		}
	}
}

// drainResults reads responses until the RPC ends, classifying the
// terminal error per spec.md §4.3/§7. Returns true if a final result was
// observed before the session ended.
func (w *Worker) drainResults(stream aiclient.RecognitionStream) (sawFinal bool) {
	for {
		result, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sawFinal
			}
			w.classifyAndCloseOn(err)
			return sawFinal
		}
		if result == nil {
			continue
		}

		w.stream.SetSpeechEndOffsetMs(result.SpeechEndOffsetMs)

		if strings.TrimSpace(result.Transcript) == "" || len(strings.TrimSpace(result.Transcript)) < minTranscriptLen {
			if result.IsFinal {
				w.stream.SetFinal(result.FinalOffsetMs)
				sawFinal = true
			}
			continue
		}

		if result.IsFinal {
			w.stream.SetFinal(result.FinalOffsetMs)
			sawFinal = true
		}

		select {
		case w.events <- Event{Role: w.role, Result: *result}:
		default:
			w.logger.Warnw("dropping recognition event, events channel full")
		}
	}
}

// classifyAndCloseOn implements spec.md §7's RecognitionCapExceeded /
// RecognitionQuotaExceeded / RecognitionPrecondition taxonomy: each
// closes the stream (wait for `resumed`) without propagating to the
// transport.
func (w *Worker) classifyAndCloseOn(err error) {
	st, ok := status.FromError(err)
	if !ok {
		w.logger.Errorw("recognition stream ended with non-status error", "error", err)
		w.stream.SetClosed(true)
		return
	}

	switch st.Code() {
	case codes.OutOfRange:
		w.logger.Debugw("recognition RPC hit provider duration cap")
	case codes.FailedPrecondition, codes.ResourceExhausted:
		w.logger.Warnw("recognition RPC closed by provider", "code", st.Code().String())
	default:
		w.logger.Errorw("recognition RPC failed", "code", st.Code().String(), "error", err)
	}
	w.stream.SetClosed(true)
}
