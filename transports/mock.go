package transports

import (
	"io"
	"sync"
	"time"
)

// MockTransport is an in-memory transport for tests.
//
// Reads are served from ReadFunc when set, otherwise from ReadData. Writes are
// appended to WriteData.
type MockTransport struct {
	mu sync.Mutex

	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	CloseErr    error
	Closed      bool
	CloseCalls  int
	ReadTimeout time.Duration
	Flushes     int

	ReadFunc func(p []byte) (int, error)

	// OnWrite, when set, sees every packet written and may queue a reply.
	OnWrite func(m *MockTransport, packet []byte)
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.WriteErr != nil {
		m.mu.Unlock()
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	onWrite := m.OnWrite
	m.mu.Unlock()

	if onWrite != nil {
		onWrite(m, append([]byte(nil), p...))
	}
	return len(p), nil
}

// Reply queues bytes for subsequent reads.
func (m *MockTransport) Reply(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadData = append(m.ReadData, data...)
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	m.CloseCalls++
	return m.CloseErr
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = timeout
	return nil
}

// Flush keeps ReadData: tests queue replies before the request is sent.
func (m *MockTransport) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
	return nil
}
