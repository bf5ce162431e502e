package sockops

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestMockConnectSynchronousResultDoesNotQueueSocketError(t *testing.T) {
	m := NewMock()
	refused := errors.New("mock_test: refused")
	m.ConnectQueue = []MockConnectResult{{Result: ConnectError, ConnErr: refused}}

	fd := NewFD(1)
	result, err := m.Connect(fd, &net.TCPAddr{})
	if result != ConnectError || !errors.Is(err, refused) {
		t.Fatalf("Connect() = %v, %v", result, err)
	}
	if err := m.SocketError(fd); err != nil {
		t.Errorf("SocketError() = %v, want nil (no pending async result)", err)
	}
}

func TestMockConnectInProgressQueuesSocketErrorOnce(t *testing.T) {
	m := NewMock()
	refused := errors.New("mock_test: connection refused")
	m.ConnectQueue = []MockConnectResult{{Result: ConnectInProgress, SockErr: refused}}

	fd := NewFD(1)
	result, err := m.Connect(fd, &net.TCPAddr{})
	if result != ConnectInProgress || err != nil {
		t.Fatalf("Connect() = %v, %v, want ConnectInProgress, nil", result, err)
	}

	if got := m.SocketError(fd); !errors.Is(got, refused) {
		t.Errorf("SocketError() = %v, want %v", got, refused)
	}
	// SocketError is consumed exactly once; a second read finds nothing
	// pending and reports success.
	if got := m.SocketError(fd); got != nil {
		t.Errorf("second SocketError() = %v, want nil", got)
	}
}

func TestMockConnectInProgressSuccessfulSocketError(t *testing.T) {
	m := NewMock()
	m.ConnectQueue = []MockConnectResult{{Result: ConnectInProgress}}

	fd := NewFD(1)
	if _, err := m.Connect(fd, &net.TCPAddr{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.SocketError(fd); err != nil {
		t.Errorf("SocketError() = %v, want nil (connect succeeded)", err)
	}
}

func TestMockReadWriteResultQueues(t *testing.T) {
	m := NewMock()
	fd := NewFD(1)
	m.ReadResults = []MockIOResult{{N: 3}, {N: 0}}
	m.WriteResults = []MockIOResult{{N: 5}}

	buf := make([]byte, 8)
	n, err := m.Read(fd, buf)
	if err != nil || n != 3 {
		t.Errorf("Read() = %d, %v, want 3, nil", n, err)
	}
	n, err = m.Read(fd, buf)
	if err != nil || n != 0 {
		t.Errorf("second Read() = %d, %v, want 0, nil", n, err)
	}
	// Queue exhausted: falls back to the default behaviour, an empty (EOF) read.
	n, err = m.Read(fd, buf)
	if err != nil || n != 0 {
		t.Errorf("third Read() = %d, %v, want 0, nil (default)", n, err)
	}

	n, err = m.Write(fd, []byte("hello123"))
	if err != nil || n != 5 {
		t.Errorf("Write() = %d, %v, want 5, nil", n, err)
	}
	// Queue exhausted: default behaviour writes everything.
	n, err = m.Write(fd, []byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("second Write() = %d, %v, want 5, nil (default)", n, err)
	}
}

func TestMockPollDefaultsToReady(t *testing.T) {
	m := NewMock()
	fd := NewFD(1)
	ready, err := m.Poll(fd, PollWritable, time.Second)
	if err != nil || ready != 1 {
		t.Errorf("Poll() = %d, %v, want 1, nil", ready, err)
	}
}

func TestMockCloseInvalidatesFD(t *testing.T) {
	m := NewMock()
	fd := NewFD(1)
	if err := m.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fd.Closed() {
		t.Error("Close should invalidate the fd")
	}
}
