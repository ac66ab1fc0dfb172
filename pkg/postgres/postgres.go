// Package postgres provides a lens.Session for PostgreSQL tables using
// LISTEN/NOTIFY. A topic is a table with a text key column and a JSON value
// column; each table row is one view row.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session watches tables in one database. Each table needs a trigger that
// sends the changed key on the table's notification channel, for inserts,
// updates and deletes.
//
// Example trigger setup for a table named quotes:
//
//	CREATE OR REPLACE FUNCTION notify_quotes() RETURNS trigger AS $$
//	BEGIN
//	    IF TG_OP = 'DELETE' THEN
//	        PERFORM pg_notify('quotes', OLD.key);
//	    ELSE
//	        PERFORM pg_notify('quotes', NEW.key);
//	    END IF;
//	    RETURN NULL;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER quotes_notify
//	    AFTER INSERT OR UPDATE OR DELETE ON quotes
//	    FOR EACH ROW EXECUTE FUNCTION notify_quotes();
type Session struct {
	pool        *pgxpool.Pool
	keyColumn   string
	valueColumn string
	channel     func(topic string) string
	codec       lens.Codec
	clock       clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithColumns sets the key and value column names.
// Defaults to "key" and "value".
func WithColumns(key, value string) Option {
	return func(s *Session) {
		s.keyColumn = key
		s.valueColumn = value
	}
}

// WithChannel maps a topic to its notification channel.
// Defaults to the topic name.
func WithChannel(fn func(topic string) string) Option {
	return func(s *Session) {
		s.channel = fn
	}
}

// WithCodec sets the codec for the value column. Default: lens.JSONCodec.
func WithCodec(codec lens.Codec) Option {
	return func(s *Session) {
		s.codec = codec
	}
}

// WithClock sets the clock used for conflation.
func WithClock(clock clockz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// New creates a Session on pool.
func New(pool *pgxpool.Pool, opts ...Option) *Session {
	s := &Session{
		pool:        pool,
		keyColumn:   "key",
		valueColumn: "value",
		channel:     func(topic string) string { return topic },
		codec:       lens.JSONCodec{},
		clock:       clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. The listening connection is held for the
// life of the stream.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	channel := s.channel(sub.Topic)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}

	table := pgx.Identifier{sub.Topic}.Sanitize()
	key := pgx.Identifier{s.keyColumn}.Sanitize()
	value := pgx.Identifier{s.valueColumn}.Sanitize()
	q := query{
		all: fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s", key, value, table, key),
		one: fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", value, table, key),
	}

	out := lens.NewPipe(0)

	go func() {
		defer conn.Release()

		rows, err := s.snapshot(ctx, q.all)
		if err != nil {
			out.Close(closeErr(ctx, err))
			return
		}
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				out.Close(closeErr(ctx, fmt.Errorf("failed waiting for notification: %w", err)))
				return
			}

			msg, ok, err := s.fetch(ctx, q.one, n.Payload)
			if err != nil {
				out.Close(closeErr(ctx, err))
				return
			}
			if !ok {
				continue
			}
			if !out.Send(ctx, msg) {
				out.Close(nil)
				return
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

type query struct {
	all string
	one string
}

func (s *Session) snapshot(ctx context.Context, sql string) ([]lens.Row, error) {
	rs, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rs.Close()

	var rows []lens.Row
	for rs.Next() {
		var key string
		var raw []byte
		if err := rs.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		fields, err := s.codec.DecodeFields(raw)
		if err != nil {
			continue
		}
		rows = append(rows, lens.NewRow(key, fields))
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return rows, nil
}

// fetch turns a notified key into an upsert, or a remove when the row is
// gone. ok is false when the stored value cannot be decoded.
func (s *Session) fetch(ctx context.Context, sql, key string) (lens.Message, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sql, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return lens.Remove(key), true, nil
	}
	if err != nil {
		return lens.Message{}, false, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	fields, err := s.codec.DecodeFields(raw)
	if err != nil {
		return lens.Message{}, false, nil
	}
	return lens.Upsert(key, fields), true, nil
}

func closeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
