// Package firestore provides a lens.Session for Firestore collections using
// realtime listeners. A topic names a collection; each document is one row
// keyed by its ID.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Session listens to collections on one Firestore client.
type Session struct {
	client *firestore.Client
	clock  clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for conflation.
func WithClock(clock clockz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// New creates a Session on client.
func New(client *firestore.Client, opts ...Option) *Session {
	s := &Session{
		client: client,
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. The first query snapshot is the view
// snapshot; later ones contribute their document changes.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	query := s.client.Collection(sub.Topic).OrderBy(firestore.DocumentID, firestore.Asc)

	out := lens.NewPipe(0)

	go func() {
		snapshots := query.Snapshots(ctx)
		defer snapshots.Stop()

		first := true
		for {
			snap, err := snapshots.Next()
			if err != nil {
				out.Close(closeErr(ctx, err))
				return
			}

			if first {
				first = false
				docs, err := snap.Documents.GetAll()
				if err != nil {
					out.Close(closeErr(ctx, err))
					return
				}
				rows := make([]lens.Row, 0, len(docs))
				for _, doc := range docs {
					if fields, err := FieldsOf(doc); err == nil {
						rows = append(rows, lens.NewRow(doc.Ref.ID, fields))
					}
				}
				if !out.SendSnapshot(ctx, rows) {
					out.Close(nil)
					return
				}
				continue
			}

			for _, change := range snap.Changes {
				var msg lens.Message
				switch change.Kind {
				case firestore.DocumentAdded, firestore.DocumentModified:
					fields, err := FieldsOf(change.Doc)
					if err != nil {
						continue
					}
					msg = lens.Upsert(change.Doc.Ref.ID, fields)
				case firestore.DocumentRemoved:
					msg = lens.Remove(change.Doc.Ref.ID)
				default:
					continue
				}
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

// FieldsOf converts a document into row fields. Timestamps become RFC 3339
// strings; maps and arrays are kept as JSON text.
func FieldsOf(doc *firestore.DocumentSnapshot) (lens.Fields, error) {
	data := doc.Data()
	for k, v := range data {
		if ts, ok := v.(time.Time); ok {
			data[k] = ts.UTC().Format(time.RFC3339Nano)
		}
	}
	fields, err := lens.FieldsOf(data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.Ref.ID, err)
	}
	return fields, nil
}

// Put writes fields as the whole document.
func Put(ctx context.Context, client *firestore.Client, collection, id string, fields lens.Fields) error {
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		data[k] = v.Interface()
	}
	if _, err := client.Collection(collection).Doc(id).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

func closeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}
