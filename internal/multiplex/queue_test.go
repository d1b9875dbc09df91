package multiplex

import (
	"os"
	"testing"
	"time"
)

func TestQueueReadEvent(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := q.Add(int(r.Fd()), Read, "pipe"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev, err := q.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != Read || ev.Tag != "pipe" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestQueueRemoveIsIdempotent(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Remove(999); err != nil {
		t.Fatalf("expected deregistering an absent fd to succeed, got: %v", err)
	}
}

func TestQueuePost(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	go q.Post(Event{Kind: Vnode, Tag: "manifestDir"})

	select {
	case ev := <-q.events:
		if ev.Kind != Vnode {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for posted event")
	}
}
