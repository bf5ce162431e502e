package sockops

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// scriptedCall records one call the Mock made, for assertions in tests.
type scriptedCall struct {
	Op   string
	Args []any
}

// Mock is a scripted, call-recording Ops used to exercise the Route and
// ConnectProcedure without real sockets. Read/Write/Poll/Connect results
// are consumed in FIFO order per method; once a method's queue is empty
// it falls back to a default: Read returns 0 (orderly EOF), Write reports
// the whole buffer written, Poll reports ready and Connect ConnectOK.
type Mock struct {
	mu sync.Mutex

	Calls []scriptedCall

	ReadResults  []MockIOResult
	WriteResults []MockIOResult
	PollResults  []MockPollResult
	ConnectQueue []MockConnectResult

	NextFD int

	pendingSockErr map[int]error
}

// MockIOResult scripts one Read or Write outcome.
type MockIOResult struct {
	N   int
	Err error
}

// MockPollResult scripts one Poll outcome.
type MockPollResult struct {
	Ready int
	Err   error
}

// MockConnectResult scripts one Connect+SocketError outcome pair.
type MockConnectResult struct {
	Result   ConnectResult
	ConnErr  error
	SockErr  error
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{NextFD: 1, pendingSockErr: map[int]error{}}
}

func (m *Mock) record(op string, args ...any) {
	m.Calls = append(m.Calls, scriptedCall{Op: op, Args: args})
}

func (m *Mock) Open(family, sockType int) (*FD, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open", family, sockType)
	fd := NewFD(m.NextFD)
	m.NextFD++
	return fd, nil
}

func (m *Mock) Bind(fd *FD, addr net.Addr) error {
	m.record("bind", fd.Raw, addr)
	return nil
}

func (m *Mock) Listen(fd *FD, backlog int) error {
	m.record("listen", fd.Raw, backlog)
	return nil
}

func (m *Mock) Accept(fd *FD) (*FD, net.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("accept", fd.Raw)
	nfd := NewFD(m.NextFD)
	m.NextFD++
	return nfd, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, nil
}

func (m *Mock) Connect(fd *FD, addr net.Addr) (ConnectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("connect", fd.Raw, addr)
	if len(m.ConnectQueue) == 0 {
		return ConnectOK, nil
	}
	r := m.ConnectQueue[0]
	m.ConnectQueue = m.ConnectQueue[1:]
	if r.Result == ConnectInProgress {
		m.pendingSockErr[fd.Raw] = r.SockErr
	}
	return r.Result, r.ConnErr
}

func (m *Mock) Poll(fd *FD, events PollEvent, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("poll", fd.Raw, events, timeout)
	if len(m.PollResults) == 0 {
		return 1, nil
	}
	r := m.PollResults[0]
	m.PollResults = m.PollResults[1:]
	return r.Ready, r.Err
}

func (m *Mock) SocketError(fd *FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("socket-error", fd.Raw)
	err, ok := m.pendingSockErr[fd.Raw]
	if !ok {
		return nil
	}
	delete(m.pendingSockErr, fd.Raw)
	return err
}

func (m *Mock) Read(fd *FD, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read", fd.Raw, len(buf))
	if len(m.ReadResults) == 0 {
		return 0, nil
	}
	r := m.ReadResults[0]
	m.ReadResults = m.ReadResults[1:]
	if r.Err != nil {
		return r.N, r.Err
	}
	if r.N > len(buf) {
		return 0, fmt.Errorf("sockops: mock read result larger than buffer")
	}
	return r.N, nil
}

func (m *Mock) Write(fd *FD, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("write", fd.Raw, len(buf))
	if len(m.WriteResults) == 0 {
		return len(buf), nil
	}
	r := m.WriteResults[0]
	m.WriteResults = m.WriteResults[1:]
	return r.N, r.Err
}

func (m *Mock) SetBlocking(fd *FD, blocking bool) error {
	m.record("set-blocking", fd.Raw, blocking)
	return nil
}

func (m *Mock) SetNoDelay(fd *FD, enabled bool) error {
	m.record("set-nodelay", fd.Raw, enabled)
	return nil
}

func (m *Mock) Shutdown(fd *FD) error {
	m.record("shutdown", fd.Raw)
	return nil
}

func (m *Mock) Close(fd *FD) error {
	m.record("close", fd.Raw)
	fd.Invalidate()
	return nil
}

func (m *Mock) Errno() error {
	return nil
}

var _ Ops = (*Mock)(nil)
