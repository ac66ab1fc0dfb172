package lens

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChannelSession_ForwardsMessages(t *testing.T) {
	source := make(chan Message, 3)
	source <- SnapshotBegin()
	source <- SnapshotRow("a", bid(1))
	source <- SnapshotEnd()

	session := NewChannelSession(source)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream, err := session.Open(ctx, Subscription{Topic: "t"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	expected := []Kind{KindSnapshotBegin, KindSnapshotRow, KindSnapshotEnd}
	for i, exp := range expected {
		select {
		case msg := <-stream.Messages():
			if msg.Kind != exp {
				t.Errorf("expected %s, got %s", exp, msg.Kind)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	if got := session.Opened(); len(got) != 1 || got[0].Topic != "t" {
		t.Errorf("expected one opened subscription, got %v", got)
	}
}

func TestChannelSession_ClosesOnSourceClose(t *testing.T) {
	source := make(chan Message, 1)
	source <- SnapshotBegin()
	close(source)

	stream, err := NewChannelSession(source).Open(context.Background(), Subscription{Topic: "t"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	<-stream.Messages()

	select {
	case _, ok := <-stream.Messages():
		if ok {
			t.Error("expected stream to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for close")
	}
	if stream.Err() != nil {
		t.Errorf("expected clean completion, got %v", stream.Err())
	}
}

func TestChannelSession_ReportsFailure(t *testing.T) {
	source := make(chan Message)
	session := NewChannelSession(source)
	boom := errors.New("transport lost")

	stream, err := session.Open(context.Background(), Subscription{Topic: "t"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	session.Fail(boom)
	close(source)

	select {
	case _, ok := <-stream.Messages():
		if ok {
			t.Error("expected stream to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for close")
	}
	if !errors.Is(stream.Err(), boom) {
		t.Errorf("expected %v, got %v", boom, stream.Err())
	}
}

func TestChannelSession_ClosesOnContextCancel(t *testing.T) {
	source := make(chan Message)
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := NewChannelSession(source).Open(ctx, Subscription{Topic: "t"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-stream.Messages():
		if ok {
			t.Error("expected stream to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for close")
	}
	if stream.Err() != nil {
		t.Errorf("expected no error on cancel, got %v", stream.Err())
	}
}

func TestSyncChannelSession_ReadsSourceDirectly(t *testing.T) {
	source := make(chan Message, 1)
	source <- Upsert("a", bid(1))

	stream, err := NewSyncChannelSession(source).Open(context.Background(), Subscription{Topic: "t"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	select {
	case msg := <-stream.Messages():
		if msg.Key != "a" {
			t.Errorf("expected key a, got %s", msg.Key)
		}
	default:
		t.Fatal("expected message to be immediately available")
	}
}
