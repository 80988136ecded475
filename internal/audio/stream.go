// Package audio implements the per-role audio ring (spec.md §4.2) and
// the two-channel PCMU demultiplexer (spec.md §3, "AudioStream").
package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Role names the two Audiohook channels, matching the negotiated media
// in internal/protocol (ChannelExternal/ChannelInternal).
type Role string

const (
	RoleCustomer Role = "external"
	RoleAgent    Role = "internal"
)

// forcedFinalOffsetMs is the speech-end offset past which the worker
// must half-close the RPC pre-emptively, before the provider's hard
// duration cap (spec.md §4.3).
const forcedFinalOffsetMs = 110000

// dequeueTimeout is how long NextChunk waits for a new chunk before
// reporting a timeout, allowing the caller to recheck closed/terminate
// (spec.md §4.2, §5).
const dequeueTimeout = 500 * time.Millisecond

// Stream is one role's bounded-lookback, append-only audio ring plus the
// gates a recognition worker and the session transport coordinate on.
type Stream struct {
	Role   Role
	rate   int // samples/sec; µ-law is 1 byte/sample
	maxLookback time.Duration

	queue *chunkQueue

	retainedMu sync.Mutex
	retained   []byte

	closed    atomic.Bool
	terminate atomic.Bool
	isFinal   atomic.Bool

	offsetsMu         sync.Mutex
	lastStartTimeMs   float64
	isFinalOffsetMs   float64
	speechEndOffsetMs float64
}

// NewStream creates a Stream for one role. rate is samples/sec (8000 for
// PCMU telephony audio); maxLookback bounds the restart replay window.
func NewStream(role Role, rate int, maxLookback time.Duration) *Stream {
	return &Stream{
		Role:        role,
		rate:        rate,
		maxLookback: maxLookback,
		queue:       newChunkQueue(),
	}
}

// FillBuffer is the producer side: append to the retained log and enqueue
// for the consumer. Never blocks (spec.md §4.2, "the producer is lossless
// within process memory").
func (s *Stream) FillBuffer(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	s.retainedMu.Lock()
	s.retained = append(s.retained, cp...)
	s.retainedMu.Unlock()

	s.queue.Push(cp)
}

// NextChunk is the single-consumer side of the generator in spec.md
// §4.3: it waits up to 500ms for a chunk, then opportunistically drains
// any further chunks already queued so one recognition request can carry
// more than one arrival. ok=false means the consumer should end the
// current RPC session (timeout, or the forced-final speech-end cap).
func (s *Stream) NextChunk() (chunk []byte, ok bool) {
	if s.SpeechEndOffsetMs() > forcedFinalOffsetMs {
		s.isFinal.Store(true)
		return nil, false
	}

	first, got := s.queue.Pop(dequeueTimeout)
	if !got {
		return nil, false
	}

	out := first
	for {
		more, got := s.queue.PopNonBlocking()
		if !got {
			break
		}
		out = append(out, more...)
	}
	return out, true
}

// Closed reports the paused/idle gate (spec.md §3).
func (s *Stream) Closed() bool { return s.closed.Load() }

// SetClosed sets the paused/idle gate.
func (s *Stream) SetClosed(v bool) { s.closed.Store(v) }

// Terminate reports the permanent-shutdown gate.
func (s *Stream) Terminate() bool { return s.terminate.Load() }

// SetTerminate sets the permanent-shutdown gate.
func (s *Stream) SetTerminate(v bool) { s.terminate.Store(v) }

// IsFinal reports whether the most recent recognition turn completed.
func (s *Stream) IsFinal() bool { return s.isFinal.Load() }

// SetFinal records that the current RPC session produced a final result
// at offsetMs (ms within the session), per spec.md §4.3 "Result handling".
func (s *Stream) SetFinal(offsetMs float64) {
	s.offsetsMu.Lock()
	s.isFinalOffsetMs = offsetMs
	s.offsetsMu.Unlock()
	s.isFinal.Store(true)
}

// SetSpeechEndOffsetMs mirrors the most recent interim/final response's
// speech_end_offset onto the stream (spec.md §4.3).
func (s *Stream) SetSpeechEndOffsetMs(ms float64) {
	s.offsetsMu.Lock()
	s.speechEndOffsetMs = ms
	s.offsetsMu.Unlock()
}

// SpeechEndOffsetMs returns the most recently observed speech_end_offset.
func (s *Stream) SpeechEndOffsetMs() float64 {
	s.offsetsMu.Lock()
	defer s.offsetsMu.Unlock()
	return s.speechEndOffsetMs
}

// LastStartTimeMs returns the cumulative processed time across restarts.
func (s *Stream) LastStartTimeMs() float64 {
	s.offsetsMu.Lock()
	defer s.offsetsMu.Unlock()
	return s.lastStartTimeMs
}

// AdvanceAfterFinal advances last_start_time by the recorded final offset
// and clears is_final, the normal restart boundary (spec.md §4.3).
func (s *Stream) AdvanceAfterFinal() {
	s.offsetsMu.Lock()
	s.lastStartTimeMs += s.isFinalOffsetMs
	s.isFinalOffsetMs = 0
	s.offsetsMu.Unlock()
	s.isFinal.Store(false)
}

// AdvanceAfterOutOfRangeWithoutFinal advances last_start_time by the last
// observed speech_end_offset when the provider's duration cap is hit with
// no preceding final result. This intentionally accepts the few hundred
// ms of potential double-counted replay spec.md §9 documents rather than
// working around it.
func (s *Stream) AdvanceAfterOutOfRangeWithoutFinal() {
	s.offsetsMu.Lock()
	s.lastStartTimeMs += s.speechEndOffsetMs
	s.offsetsMu.Unlock()
}

// LookbackPayload returns the replay window for the next RPC session:
// the trailing min(retained-processed, maxLookback*rate) bytes of the
// retained log, starting at byte index LastStartTimeMs*rate/1000
// (spec.md §4.3, "Restart with look-back").
func (s *Stream) LookbackPayload() []byte {
	s.retainedMu.Lock()
	retained := s.retained
	s.retainedMu.Unlock()

	processedBytes := int(s.LastStartTimeMs() * float64(s.rate) / 1000.0)
	if processedBytes <= 0 {
		return nil
	}
	available := len(retained) - processedBytes
	if available <= 0 {
		return nil
	}
	maxBytes := int(s.maxLookback.Seconds() * float64(s.rate))
	n := available
	if n > maxBytes {
		n = maxBytes
	}
	if n <= 0 {
		return nil
	}
	return retained[len(retained)-n:]
}
