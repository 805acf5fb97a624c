package redisclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardDeliversPayloads(t *testing.T) {
	in := make(chan *redis.Message, 4)
	out := make(chan string, 1)
	done := make(chan struct{})

	go forward(in, out, done)

	in <- &redis.Message{Payload: "released"}
	select {
	case got := <-out:
		assert.Equal(t, "released", got)
	case <-time.After(time.Second):
		t.Fatal("payload was not forwarded")
	}

	// Closing the subscription closes out, matching pubsub.Close.
	close(in)
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("out was not closed after the subscription closed")
	}
}

func TestForwardExitsOnStopWithPendingMessages(t *testing.T) {
	in := make(chan *redis.Message, 4)
	out := make(chan string, 1)
	done := make(chan struct{})

	// Two notifications with no consumer: the first fills out's buffer,
	// the second leaves the forwarder mid-send.
	in <- &redis.Message{Payload: "released"}
	in <- &redis.Message{Payload: "released"}

	finished := make(chan struct{})
	go func() {
		forward(in, out, done)
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("forwarder leaked after stop with an undrained buffer")
	}
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(io.EOF))
	assert.True(t, isConnectionError(context.DeadlineExceeded))
	assert.True(t, isConnectionError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(errors.New("WRONGTYPE Operation against a key")))
}

func TestClassifyWrapsStoreOutages(t *testing.T) {
	err := classify("setnx", io.EOF)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = classify("setnx", fmt.Errorf("script error"))
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
}

func TestSubscribeRoundTrip(t *testing.T) {
	// Integration test - requires Redis.
	t.Skip("Integration test - requires Redis")

	client, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	msgs, stop, err := client.Subscribe(ctx, "lockchan:test")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, client.Publish(ctx, "lockchan:test", "released"))

	select {
	case got := <-msgs:
		assert.Equal(t, "released", got)
	case <-time.After(2 * time.Second):
		t.Fatal("published message was not delivered")
	}
}
