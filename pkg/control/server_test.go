package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	client "framesync/clients/go"
)

type controlRecorder struct {
	mu       sync.Mutex
	messages []string
	status   []bool
}

func (r *controlRecorder) onMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *controlRecorder) onStatus(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, connected)
}

func (r *controlRecorder) waitFor(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		ok := pred()
		r.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func startServer(t *testing.T) (*Server, *controlRecorder) {
	t.Helper()
	rec := &controlRecorder{}
	srv := NewServer(hclog.NewNullLogger(), rec.onMessage, rec.onStatus)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestControlMessages(t *testing.T) {
	srv, rec := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, srv.Addr(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send("size 75"))
	require.NoError(t, c.Send("graph 1"))
	rec.waitFor(t, func() bool { return len(rec.messages) == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"size 75", "graph 1"}, rec.messages)
	assert.Equal(t, []bool{true}, rec.status)
}

func TestControlRejectsEmbeddedNewline(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, srv.Addr(), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.Send("size 75\ngraph 1"))
}

func TestControlDisconnectReported(t *testing.T) {
	srv, rec := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, srv.Addr(), nil)
	require.NoError(t, err)
	rec.waitFor(t, func() bool { return len(rec.status) == 1 })

	c.Close()
	rec.waitFor(t, func() bool { return len(rec.status) == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []bool{true, false}, rec.status)
}

func TestControlCloseJoinsReaders(t *testing.T) {
	srv, rec := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, srv.Addr(), nil)
	require.NoError(t, err)
	defer c.Close()
	rec.waitFor(t, func() bool { return len(rec.status) == 1 })

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not join in time")
	}
}
