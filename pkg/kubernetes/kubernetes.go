// Package kubernetes provides a lens.Session for Kubernetes ConfigMaps and
// Secrets. A topic selects every object in the namespace labelled with
// TopicLabel=<topic>; each object is one row keyed by its name.
package kubernetes

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// TopicLabel is the label that assigns an object to a topic.
const TopicLabel = "lens.zoobzio.io/topic"

// ResourceType specifies the type of Kubernetes resource to watch.
type ResourceType int

const (
	// ConfigMap watches ConfigMap resources.
	ConfigMap ResourceType = iota
	// Secret watches Secret resources.
	Secret
)

// Session watches labelled objects in one namespace.
type Session struct {
	client       kubernetes.Interface
	namespace    string
	resourceType ResourceType
	dataKey      string
	codec        lens.Codec
	clock        clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithResourceType sets the resource type to watch.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(s *Session) {
		s.resourceType = rt
	}
}

// WithDataKey decodes the row from a single data entry with codec. Without
// it every data entry becomes a string field.
func WithDataKey(key string, codec lens.Codec) Option {
	return func(s *Session) {
		s.dataKey = key
		s.codec = codec
	}
}

// WithClock sets the clock used for conflation.
func WithClock(clock clockz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// New creates a Session for namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Session {
	s := &Session{
		client:       client,
		namespace:    namespace,
		resourceType: ConfigMap,
		clock:        clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. When the watch expires or fails the topic is
// listed again and delivered as a fresh snapshot.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	selector := metav1.ListOptions{LabelSelector: TopicLabel + "=" + sub.Topic}

	rows, watcher, err := s.listAndWatch(ctx, selector)
	if err != nil {
		return nil, err
	}

	out := lens.NewPipe(0)

	go func() {
		for {
			if !out.SendSnapshot(ctx, rows) {
				watcher.Stop()
				out.Close(nil)
				return
			}
			if !s.forward(ctx, watcher, out) {
				watcher.Stop()
				out.Close(nil)
				return
			}
			watcher.Stop()

			rows, watcher, err = s.listAndWatch(ctx, selector)
			if err != nil {
				out.Close(closeErr(ctx, err))
				return
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

func (s *Session) listAndWatch(ctx context.Context, opts metav1.ListOptions) ([]lens.Row, watch.Interface, error) {
	var (
		objects []runtime.Object
		version string
	)
	if s.resourceType == ConfigMap {
		list, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list configmaps: %w", err)
		}
		for i := range list.Items {
			objects = append(objects, &list.Items[i])
		}
		version = list.ResourceVersion
	} else {
		list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list secrets: %w", err)
		}
		for i := range list.Items {
			objects = append(objects, &list.Items[i])
		}
		version = list.ResourceVersion
	}

	rows := make([]lens.Row, 0, len(objects))
	for _, obj := range objects {
		if row, ok := s.rowOf(obj); ok {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b lens.Row) int {
		return strings.Compare(a.Key, b.Key)
	})

	opts.ResourceVersion = version
	opts.Watch = true

	var (
		watcher watch.Interface
		err     error
	)
	if s.resourceType == ConfigMap {
		watcher, err = s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, opts)
	} else {
		watcher, err = s.client.CoreV1().Secrets(s.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start watch: %w", err)
	}
	return rows, watcher, nil
}

// forward relays watch events until the watch ends. It reports false when
// the stream should stop rather than resync.
func (s *Session) forward(ctx context.Context, watcher watch.Interface, out *lens.Pipe) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-watcher.ResultChan():
			if !ok || event.Type == watch.Error {
				return true
			}

			var msg lens.Message
			switch event.Type {
			case watch.Added, watch.Modified:
				row, ok := s.rowOf(event.Object)
				if !ok {
					continue
				}
				msg = lens.Upsert(row.Key, row.Fields)
			case watch.Deleted:
				meta, err := metaOf(event.Object)
				if err != nil {
					continue
				}
				msg = lens.Remove(meta.GetName())
			default:
				continue
			}
			if !out.Send(ctx, msg) {
				return false
			}
		}
	}
}

// rowOf converts a ConfigMap or Secret into a row.
func (s *Session) rowOf(obj runtime.Object) (lens.Row, bool) {
	data := map[string][]byte{}
	var name string
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		if s.resourceType != ConfigMap {
			return lens.Row{}, false
		}
		name = o.Name
		for k, v := range o.Data {
			data[k] = []byte(v)
		}
	case *corev1.Secret:
		if s.resourceType != Secret {
			return lens.Row{}, false
		}
		name = o.Name
		data = o.Data
	default:
		return lens.Row{}, false
	}

	if s.dataKey != "" {
		raw, ok := data[s.dataKey]
		if !ok {
			return lens.Row{}, false
		}
		fields, err := s.codec.DecodeFields(raw)
		if err != nil {
			return lens.Row{}, false
		}
		return lens.NewRow(name, fields), true
	}

	fields := make(lens.Fields, len(data))
	for k, v := range data {
		fields[k] = lens.String(string(v))
	}
	return lens.NewRow(name, fields), true
}

func metaOf(obj runtime.Object) (metav1.Object, error) {
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		return o, nil
	case *corev1.Secret:
		return o, nil
	}
	return nil, fmt.Errorf("unexpected object %T", obj)
}

func closeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
