package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/lens"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func configMap(name, topic string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    map[string]string{TopicLabel: topic},
		},
		Data: data,
	}
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

func TestSession_EmitsSnapshot_ConfigMap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(
		configMap("msft", "quotes", map[string]string{"bid": "200"}),
		configMap("ibm", "quotes", map[string]string{"bid": "100"}),
		configMap("other", "trades", map[string]string{"px": "1"}),
	)

	stream, err := New(client, "default").Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if msg := next(t, stream); msg.Kind != lens.KindSnapshotBegin {
		t.Fatalf("expected snapshot begin, got %s", msg)
	}
	msg := next(t, stream)
	if msg.Kind != lens.KindSnapshotRow || msg.Key != "ibm" {
		t.Errorf("expected snapshot row ibm, got %s", msg)
	}
	if s, _ := msg.Fields["bid"].Str(); s != "100" {
		t.Errorf("expected bid \"100\", got %v", msg.Fields["bid"])
	}
	if msg = next(t, stream); msg.Key != "msft" {
		t.Errorf("expected snapshot row msft, got %s", msg)
	}
	if msg = next(t, stream); msg.Kind != lens.KindSnapshotEnd {
		t.Fatalf("expected snapshot end, got %s", msg)
	}
}

func TestSession_EmitsSnapshot_SecretWithDataKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "ibm",
			Namespace: "default",
			Labels:    map[string]string{TopicLabel: "quotes"},
		},
		Data: map[string][]byte{
			"row.json": []byte(`{"bid": 100}`),
		},
	})

	stream, err := New(client, "default", WithResourceType(Secret), WithDataKey("row.json", lens.JSONCodec{})).Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	next(t, stream)
	msg := next(t, stream)
	if msg.Key != "ibm" {
		t.Fatalf("expected ibm, got %s", msg)
	}
	if v, _ := msg.Fields["bid"].Num(); v != 100 {
		t.Errorf("expected bid 100, got %v", msg.Fields["bid"])
	}
}

func TestSession_EmitsChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(configMap("ibm", "quotes", map[string]string{"bid": "100"}))
	cms := client.CoreV1().ConfigMaps("default")

	stream, err := New(client, "default").Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	next(t, stream)
	next(t, stream)
	next(t, stream)

	if _, err := cms.Update(ctx, configMap("ibm", "quotes", map[string]string{"bid": "101"}), metav1.UpdateOptions{}); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	msg := next(t, stream)
	if msg.Kind != lens.KindUpsert || msg.Key != "ibm" {
		t.Fatalf("expected upsert ibm, got %s", msg)
	}
	if s, _ := msg.Fields["bid"].Str(); s != "101" {
		t.Errorf("expected bid \"101\", got %v", msg.Fields["bid"])
	}

	if err := cms.Delete(ctx, "ibm", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	msg = next(t, stream)
	if msg.Kind != lens.KindRemove || msg.Key != "ibm" {
		t.Fatalf("expected remove ibm, got %s", msg)
	}
}

func TestSession_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := fake.NewSimpleClientset()
	stream, err := New(client, "default").Open(ctx, quotes)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	next(t, stream)
	next(t, stream)

	cancel()

	select {
	case _, ok := <-stream.Messages():
		if ok {
			t.Error("expected stream to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stream to close")
	}
	if stream.Err() != nil {
		t.Errorf("expected clean close, got %v", stream.Err())
	}
}

func TestRowOf(t *testing.T) {
	s := New(fake.NewSimpleClientset(), "default")

	row, ok := s.rowOf(configMap("ibm", "quotes", map[string]string{"bid": "100", "venue": "X"}))
	if !ok {
		t.Fatal("expected configmap row")
	}
	want := lens.Fields{"bid": lens.String("100"), "venue": lens.String("X")}
	if row.Key != "ibm" || !row.Fields.Equal(want) {
		t.Errorf("expected ibm %v, got %s %v", want, row.Key, row.Fields)
	}

	if _, ok := s.rowOf(&corev1.Secret{}); ok {
		t.Error("expected secret rejected by configmap session")
	}
	if _, ok := s.rowOf(&corev1.Pod{}); ok {
		t.Error("expected unknown object rejected")
	}

	keyed := New(fake.NewSimpleClientset(), "default", WithDataKey("row.yaml", lens.YAMLCodec{}))
	if _, ok := keyed.rowOf(configMap("ibm", "quotes", map[string]string{"other": "x"})); ok {
		t.Error("expected object without data key rejected")
	}
	row, ok = keyed.rowOf(configMap("ibm", "quotes", map[string]string{"row.yaml": "bid: 100\n"}))
	if !ok {
		t.Fatal("expected decoded row")
	}
	if v, _ := row.Fields["bid"].Num(); v != 100 {
		t.Errorf("expected bid 100, got %v", row.Fields["bid"])
	}
}
