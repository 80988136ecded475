package recognition

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/audio"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

// fakeStream is a scripted aiclient.RecognitionStream double: it replays a
// fixed list of results, then ends with endErr (io.EOF by default).
type fakeStream struct {
	results []*aiclient.RecognitionResult
	endErr  error

	idx         int
	sent        [][]byte
	closeSendCalled bool
}

func (s *fakeStream) SendAudio(chunk []byte) error {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.closeSendCalled = true
	return nil
}

func (s *fakeStream) Recv() (*aiclient.RecognitionResult, error) {
	if s.idx < len(s.results) {
		r := s.results[s.idx]
		s.idx++
		return r, nil
	}
	if s.endErr != nil {
		return nil, s.endErr
	}
	return nil, io.EOF
}

// fakeFacade hands out scripted streams in order, one per
// OpenRecognitionStream call.
type fakeFacade struct {
	aiclient.Facade
	streams []*fakeStream
	opened  int
	openErr error
}

func (f *fakeFacade) OpenRecognitionStream(ctx context.Context, opts aiclient.StreamOptions) (aiclient.RecognitionStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.opened >= len(f.streams) {
		// Out of scripted sessions: block until the test's context is done
		// rather than looping the caller forever on a nil stream.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := f.streams[f.opened]
	f.opened++
	return s, nil
}

func newTestStream(t *testing.T) *audio.Stream {
	t.Helper()
	return audio.NewStream(audio.RoleCustomer, 8000, 3*time.Second)
}

func TestWorkerClosesStreamOnFinalWithoutSettingClosedFlag(t *testing.T) {
	st := &fakeStream{
		results: []*aiclient.RecognitionResult{
			{Transcript: "hello there", IsFinal: true, FinalOffsetMs: 1200, SpeechEndOffsetMs: 1200},
		},
	}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)
	stream.FillBuffer([]byte{1, 2, 3, 4})

	events := make(chan Event, 4)
	w := New(audio.RoleCustomer, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, events)

	w.runSession(context.Background())

	// A final result ends the RPC session cleanly (EOF, not a
	// provider-classified error), so the stream is not gated closed: the
	// next Run() iteration is free to open a new session immediately.
	assert.False(t, stream.Closed())
	assert.False(t, stream.IsFinal(), "AdvanceAfterFinal must clear is_final")
	assert.Equal(t, float64(1200), stream.LastStartTimeMs())

	select {
	case ev := <-events:
		assert.Equal(t, "hello there", ev.Result.Transcript)
		assert.True(t, ev.Result.IsFinal)
	default:
		t.Fatal("expected a forwarded recognition event")
	}
}

func TestWorkerSuppressesShortTranscripts(t *testing.T) {
	st := &fakeStream{
		results: []*aiclient.RecognitionResult{
			{Transcript: "h", IsFinal: false},
			{Transcript: "", IsFinal: true, FinalOffsetMs: 500},
		},
	}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)

	events := make(chan Event, 4)
	w := New(audio.RoleAgent, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, events)

	w.runSession(context.Background())

	select {
	case ev := <-events:
		t.Fatalf("did not expect a forwarded event for sub-minimum transcripts, got %+v", ev)
	default:
	}
	assert.Equal(t, float64(500), stream.LastStartTimeMs())
}

func TestWorkerOutOfRangeClosesStreamAndDoubleCountsOffset(t *testing.T) {
	st := &fakeStream{
		results: []*aiclient.RecognitionResult{
			{Transcript: "still talking", IsFinal: false, SpeechEndOffsetMs: 900},
		},
		endErr: status.Error(codes.OutOfRange, "duration cap exceeded"),
	}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)

	events := make(chan Event, 4)
	w := New(audio.RoleCustomer, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, events)

	w.runSession(context.Background())

	require.True(t, stream.Closed(), "OutOfRange must gate the stream until resume")
	assert.Equal(t, float64(900), stream.LastStartTimeMs(), "no final seen, so the boundary advances by speech_end_offset")
}

func TestWorkerFailedPreconditionClosesStreamWithoutPropagating(t *testing.T) {
	st := &fakeStream{endErr: status.Error(codes.FailedPrecondition, "conversation completed")}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)

	events := make(chan Event, 1)
	w := New(audio.RoleAgent, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, events)

	assert.NotPanics(t, func() { w.runSession(context.Background()) })
	assert.True(t, stream.Closed())
}

func TestWorkerResourceExhaustedClosesStream(t *testing.T) {
	st := &fakeStream{endErr: status.Error(codes.ResourceExhausted, "quota exceeded")}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)

	w := New(audio.RoleCustomer, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, make(chan Event, 1))
	w.runSession(context.Background())

	assert.True(t, stream.Closed())
}

func TestWorkerSendsLookbackPayloadBeforeNewChunks(t *testing.T) {
	st := &fakeStream{
		results: []*aiclient.RecognitionResult{
			{Transcript: "ok", IsFinal: true, FinalOffsetMs: 100},
		},
	}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)
	firstChunk := make([]byte, 8000)
	for i := range firstChunk {
		firstChunk[i] = 0x7f
	}
	stream.FillBuffer(firstChunk)
	stream.SetFinal(500) // simulate a prior session ending 500ms (4000 bytes) in
	stream.AdvanceAfterFinal()

	w := New(audio.RoleCustomer, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, make(chan Event, 1))
	w.runSession(context.Background())

	require.NotEmpty(t, st.sent, "expected the look-back replay to be sent before any new chunk")
	assert.Equal(t, firstChunk[4000:], st.sent[0])
}

func TestWorkerRunStopsOnceStreamIsClosed(t *testing.T) {
	st := &fakeStream{endErr: status.Error(codes.FailedPrecondition, "done")}
	facade := &fakeFacade{streams: []*fakeStream{st}}
	stream := newTestStream(t)

	w := New(audio.RoleCustomer, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, make(chan Event, 1))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
	assert.True(t, stream.Closed())
}

func TestWorkerRunReturnsOnTerminate(t *testing.T) {
	stream := newTestStream(t)
	stream.SetTerminate(true)
	facade := &fakeFacade{streams: nil}

	w := New(audio.RoleAgent, stream, facade, observability.NewNoop(), aiclient.StreamOptions{}, make(chan Event, 1))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return immediately when terminate was already set")
	}
}
