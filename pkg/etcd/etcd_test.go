package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/lens"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func next(t *testing.T, s lens.Stream) lens.Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		if !ok {
			t.Fatalf("stream closed: %v", s.Err())
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return lens.Message{}
}

var quotes = lens.Subscription{Topic: "quotes", Options: lens.Options{OutOfFocus: true}}

func TestSession_EmitsSnapshot(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.Put(ctx, "quotes/MSFT", `{"bid": 200}`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := client.Put(ctx, "quotes/IBM", `{"bid": 100}`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if _, err := client.Put(ctx, "quotesX/IBM", `{"bid": 1}`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	stream, err := New(client).Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if msg := next(t, stream); msg.Kind != lens.KindSnapshotBegin {
		t.Fatalf("expected snapshot begin, got %s", msg)
	}
	for _, want := range []string{"IBM", "MSFT"} {
		if msg := next(t, stream); msg.Kind != lens.KindSnapshotRow || msg.Key != want {
			t.Errorf("expected snapshot row %s, got %s", want, msg)
		}
	}
	if msg := next(t, stream); msg.Kind != lens.KindSnapshotEnd {
		t.Fatalf("expected snapshot end, got %s", msg)
	}
}

func TestSession_EmitsChanges(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := New(client).Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	next(t, stream)
	next(t, stream)

	if _, err := client.Put(ctx, "quotes/GOOG", `{"bid": 300}`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	msg := next(t, stream)
	if msg.Kind != lens.KindUpsert || msg.Key != "GOOG" {
		t.Fatalf("expected upsert GOOG, got %s", msg)
	}

	if _, err := client.Delete(ctx, "quotes/GOOG"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	msg = next(t, stream)
	if msg.Kind != lens.KindRemove || msg.Key != "GOOG" {
		t.Fatalf("expected remove GOOG, got %s", msg)
	}
}

func TestSession_WindowedFeed(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for k, v := range map[string]string{"a": `{"bid": 1}`, "b": `{"bid": 3}`, "c": `{"bid": 2}`} {
		if _, err := client.Put(ctx, "top/"+k, v); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
	}

	sub, err := lens.NewSubscription("top", "/bid DESC", "oof,top_n=2")
	if err != nil {
		t.Fatalf("NewSubscription failed: %v", err)
	}
	stream, err := New(client).Open(ctx, sub)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	next(t, stream)
	for _, want := range []string{"b", "c"} {
		if msg := next(t, stream); msg.Key != want {
			t.Errorf("expected %s, got %s", want, msg)
		}
	}
	next(t, stream)

	if _, err := client.Put(ctx, "top/a", `{"bid": 9}`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if msg := next(t, stream); msg.Kind != lens.KindRemove || msg.Key != "c" {
		t.Errorf("expected remove c, got %s", msg)
	}
	if msg := next(t, stream); msg.Kind != lens.KindUpsert || msg.Key != "a" {
		t.Errorf("expected upsert a, got %s", msg)
	}
}
