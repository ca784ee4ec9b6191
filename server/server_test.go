package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/nixxel-company-limited/labelprinter/adapter"
	"github.com/nixxel-company-limited/labelprinter/label"
	"github.com/nixxel-company-limited/labelprinter/protocol"
	"github.com/nixxel-company-limited/labelprinter/render"
)

// MockAdapter is a mock implementation of the Adapter interface for testing.
// Every status request is answered with a fixed status.
type MockAdapter struct {
	mu       sync.Mutex
	open     bool
	openErr  error
	writes   [][]byte
	response bytes.Buffer
}

func (m *MockAdapter) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	return nil
}

func (m *MockAdapter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, append([]byte(nil), data...))
	if bytes.HasSuffix(data, []byte{protocol.ESC, 'A'}) {
		m.response.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0x40})
	}
	return len(data), nil
}

func (m *MockAdapter) Read(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.response.Read(buf)
}

func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MockAdapter) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MockAdapter) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

var _ adapter.Adapter = (*MockAdapter)(nil)

func newTestServer(t *testing.T, device adapter.Adapter) *Server {
	t.Helper()
	r, err := render.NewRenderer(goregular.TTF, 0)
	require.NoError(t, err)
	return New(device, r, label.Options{}, "localhost:0", nil)
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	addr := s.ListenAddr()
	require.NotNil(t, addr)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestNewServer(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	assert.NotNil(t, server)
	assert.Equal(t, "localhost:0", server.Address())
	assert.False(t, server.IsRunning())
	assert.Nil(t, server.ListenAddr())
	assert.NotNil(t, server.Printer())
}

func TestServerStartStop(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	// Test start async (non-blocking)
	err := server.StartAsync()
	require.NoError(t, err)
	assert.True(t, server.IsRunning())
	assert.True(t, mockAdapter.IsOpen())

	// Test double start
	err = server.StartAsync()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Test stop
	err = server.Stop()
	require.NoError(t, err)
	assert.False(t, server.IsRunning())
	assert.False(t, mockAdapter.IsOpen())

	// Test double stop (should not error)
	err = server.Stop()
	assert.NoError(t, err)
}

func TestServerPrintsLabel(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	require.NoError(t, server.StartAsync())
	defer server.Stop()

	conn := dial(t, server)
	defer conn.Close()

	reader := bufio.NewReader(conn)

	_, err := fmt.Fprintln(conn, "Hello, Printer!")
	require.NoError(t, err)
	reply, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK 00 00 00 00 00 00 00 40\n", reply)

	_, err = fmt.Fprintln(conn, "two|lines")
	require.NoError(t, err)
	reply, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK 00 00 00 00 00 00 00 40\n", reply)

	assert.Equal(t, 2, mockAdapter.Writes(), "one write per label")
}

func TestServerRejectsEmptyLabel(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	require.NoError(t, server.StartAsync())
	defer server.Stop()

	conn := dial(t, server)
	defer conn.Close()

	_, err := fmt.Fprintln(conn, "|")
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ERR "+render.ErrEmptyText.Error()+"\n", reply)
	assert.Equal(t, 0, mockAdapter.Writes())
}

func TestServerMultipleConnections(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	require.NoError(t, server.StartAsync())
	defer server.Stop()

	// Create multiple connections
	numConnections := 3
	var wg sync.WaitGroup
	for i := 0; i < numConnections; i++ {
		conn := dial(t, server)
		defer conn.Close()

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fmt.Fprintf(conn, "label %d\n", i)
			assert.NoError(t, err)
			reply, err := bufio.NewReader(conn).ReadString('\n')
			assert.NoError(t, err)
			assert.Equal(t, "OK 00 00 00 00 00 00 00 40\n", reply)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, numConnections, mockAdapter.Writes())
}

func TestServerStopWithIdleClient(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	require.NoError(t, server.StartAsync())

	conn := dial(t, server)
	defer conn.Close()

	// Make sure the connection is being handled before stopping.
	_, err := fmt.Fprintln(conn, "idle")
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() {
		stopped <- server.Stop()
	}()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while a client was connected")
	}

	assert.False(t, server.IsRunning())
	assert.False(t, mockAdapter.IsOpen())

	// The server side closed the connection.
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}

func TestServerInvalidAddress(t *testing.T) {
	r, err := render.NewRenderer(goregular.TTF, 0)
	require.NoError(t, err)
	server := New(&MockAdapter{}, r, label.Options{}, "invalid:address:9100", nil)

	err = server.StartAsync()
	assert.Error(t, err)
	assert.False(t, server.IsRunning())
}

func TestServerAdapterOpenFailure(t *testing.T) {
	mockAdapter := &MockAdapter{openErr: errors.New("permission denied")}
	server := newTestServer(t, mockAdapter)

	err := server.StartAsync()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open adapter")
	assert.False(t, server.IsRunning())
}

func TestServerStartBlocking(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := newTestServer(t, mockAdapter)

	// Start server in a goroutine since it blocks
	started := make(chan error)
	go func() {
		started <- server.Start()
	}()

	require.Eventually(t, server.IsRunning, time.Second, 10*time.Millisecond)

	conn := dial(t, server)
	_, err := fmt.Fprintln(conn, "Blocking test")
	require.NoError(t, err)
	_, err = bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	conn.Close()

	// Stop server
	require.NoError(t, server.Stop())

	// Wait for Start() to return
	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestServerRendererError(t *testing.T) {
	mockAdapter := &MockAdapter{}
	server := New(mockAdapter, failingRenderer{}, label.Options{}, "localhost:0", nil)

	require.NoError(t, server.StartAsync())
	defer server.Stop()

	conn := dial(t, server)
	defer conn.Close()

	_, err := fmt.Fprintln(conn, "anything")
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ERR font missing\n", reply)
}

type failingRenderer struct{}

func (failingRenderer) Render(lines ...string) (*image.Gray, error) {
	return nil, errors.New("font missing")
}
