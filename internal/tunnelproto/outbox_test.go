package tunnelproto

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOutboxPreservesOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	written := make(chan struct{}, 3)

	box := newOutboxWithWriter(func(msg Message) error {
		mu.Lock()
		got = append(got, msg.(Error).Message)
		mu.Unlock()
		written <- struct{}{}
		return nil
	}, nil, 4, time.Second)
	defer box.Close()

	for _, m := range []string{"a", "b", "c"} {
		if err := box.Send(NewError(m)); err != nil {
			t.Fatalf("send %s: %v", m, err)
		}
	}
	for range 3 {
		<-written
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestOutboxSendDoesNotWaitForWrite(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	box := newOutboxWithWriter(func(Message) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-release
		return nil
	}, nil, 2, time.Second)

	if err := box.Send(NewError("first")); err != nil {
		t.Fatal(err)
	}
	<-started

	done := make(chan error, 1)
	go func() { done <- box.Send(NewError("second")) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked on an in-flight write")
	}

	close(release)
	box.Close()
}

func TestOutboxStalledPeerClosesConnection(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	closed := make(chan struct{})
	box := newOutboxWithWriter(func(Message) error {
		<-release
		return nil
	}, func() { close(closed) }, 1, 20*time.Millisecond)

	// One frame in flight, one queued, the third must overflow.
	_ = box.Send(NewError("1"))
	_ = box.Send(NewError("2"))
	var err error
	for range 3 {
		if err = box.Send(NewError("x")); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrOutboxStalled) {
		t.Fatalf("expected ErrOutboxStalled, got %v", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected close callback")
	}

	close(release)
	box.Close()
	if err := box.Send(NewError("late")); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("expected ErrOutboxClosed, got %v", err)
	}
}

func TestOutboxWriteErrorStopsWriter(t *testing.T) {
	t.Parallel()

	box := newOutboxWithWriter(func(Message) error {
		return errors.New("broken pipe")
	}, nil, 1, time.Second)

	_ = box.Send(NewError("boom"))
	select {
	case <-box.Done():
	case <-time.After(time.Second):
		t.Fatal("writer did not exit after write error")
	}
	if err := box.Send(NewError("after")); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("expected ErrOutboxClosed, got %v", err)
	}
	box.Close()
}
