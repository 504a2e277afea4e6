package api

import (
	"testing"
	"time"
)

func TestWSHubStopEndsRunLoopAndDropsClients(t *testing.T) {
	h := NewWSHub()
	go h.Run()

	client := &WSClient{send: make(chan []byte, 1), hub: h}
	h.register <- client
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	if got := h.ClientCount(); got != 0 {
		t.Errorf("client count after stop = %d, want 0", got)
	}
	if _, ok := <-client.send; ok {
		t.Error("client send channel should be closed on stop")
	}

	// Second call must not panic or block.
	h.Stop()
}
