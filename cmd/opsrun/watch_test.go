package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opsagent/orchestrator/internal/streaming"
)

func TestFollowStopsWhenRelayEnds(t *testing.T) {
	notices := make(chan streaming.Notice, 2)
	notices <- streaming.Notice{Type: streaming.NoticeInvoked, Message: "planner invoked"}
	notices <- streaming.Notice{Type: streaming.NoticeToolCall, Message: "Calling list_incidents..."}
	close(notices)

	done := make(chan error, 1)
	go func() { done <- follow(context.Background(), notices) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("follow did not return after the channel closed")
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, follow(ctx, make(chan streaming.Notice)))
}
