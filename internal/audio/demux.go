package audio

import "fmt"

// Demux splits one interleaved binary frame into its two per-role byte
// slices: even-indexed bytes are the customer (external) channel,
// odd-indexed bytes are the agent (internal) channel (spec.md §4.2,
// §8 "Interleave correctness"). frame must have even length; the
// protocol codec enforces this before Demux is called.
func Demux(frame []byte) (customer, agent []byte, err error) {
	if len(frame)%2 != 0 {
		return nil, nil, fmt.Errorf("audio: frame length %d is not a multiple of 2", len(frame))
	}
	n := len(frame) / 2
	customer = make([]byte, n)
	agent = make([]byte, n)
	for i := 0; i < n; i++ {
		customer[i] = frame[2*i]
		agent[i] = frame[2*i+1]
	}
	return customer, agent, nil
}
