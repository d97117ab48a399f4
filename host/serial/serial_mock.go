package serial

import (
	"bytes"
	"io"
	"sync"
)

// MockPort is an in-memory Port for tests. Reads drain whatever tap bytes
// were fed with FeedRead and then report io.EOF, like a relay that was
// unplugged.
type MockPort struct {
	mu     sync.Mutex
	rx     bytes.Buffer
	closed bool
}

// NewMockPort creates an empty MockPort
func NewMockPort() *MockPort {
	return &MockPort{}
}

// FeedRead queues relay output for subsequent Read calls
func (p *MockPort) FeedRead(data []byte) {
	p.mu.Lock()
	p.rx.Write(data)
	p.mu.Unlock()
}

func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	return p.rx.Read(b)
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
