package protocol

// Payload is a bounded payload buffer: a fixed-capacity byte array with its
// length tracked alongside. Over-length writes are rejected at the API
// boundary instead of silently truncating.
type Payload struct {
	buf [MaxPayload]byte
	n   int
}

// Set copies b into the buffer. Returns false (leaving the buffer empty)
// when b exceeds the payload allowance.
func (p *Payload) Set(b []byte) bool {
	if len(b) > MaxPayload {
		p.n = 0
		return false
	}
	copy(p.buf[:], b)
	p.n = len(b)
	return true
}

// Bytes returns the stored payload. The slice aliases the internal buffer
// and is invalidated by the next Set or Reset.
func (p *Payload) Bytes() []byte {
	return p.buf[:p.n]
}

// Len returns the stored payload length
func (p *Payload) Len() int {
	return p.n
}

// Reset empties the buffer
func (p *Payload) Reset() {
	p.n = 0
}
