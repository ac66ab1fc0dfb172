// Package file provides a lens.Session backed by a directory tree. Each topic
// is a subdirectory; each JSON or YAML file in it is one row, keyed by the
// file name without its extension.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session reads topics from subdirectories of root.
type Session struct {
	root  string
	clock clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for conflation.
func WithClock(clock clockz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// New creates a Session rooted at root.
func New(root string, opts ...Option) *Session {
	s := &Session{root: root, clock: clockz.RealClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. The topic directory is read as the snapshot
// and then watched. Writes produce upserts carrying the whole file; removals
// and renames produce removes. Files that cannot be decoded are skipped.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	dir := filepath.Join(s.root, sub.Topic)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	out := lens.NewPipe(0)

	go func() {
		defer watcher.Close()

		rows, err := readDir(dir)
		if err != nil {
			out.Close(err)
			return
		}
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return

			case event, ok := <-watcher.Events:
				if !ok {
					out.Close(nil)
					return
				}
				key, codec := keyOf(event.Name)
				if codec == nil {
					continue
				}

				var msg lens.Message
				switch {
				case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					msg = lens.Remove(key)
				case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
					fields, err := readRow(event.Name, codec)
					if err != nil {
						continue
					}
					msg = lens.Upsert(key, fields)
				default:
					continue
				}
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					out.Close(nil)
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

// keyOf returns the row key for a path and the codec for its extension, or a
// nil codec when the file is not a row.
func keyOf(path string) (string, lens.Codec) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", nil
	}
	ext := filepath.Ext(base)
	key := strings.TrimSuffix(base, ext)
	switch strings.ToLower(ext) {
	case ".json":
		return key, lens.JSONCodec{}
	case ".yaml", ".yml":
		return key, lens.YAMLCodec{}
	default:
		return "", nil
	}
}

func readRow(path string, codec lens.Codec) (lens.Fields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return codec.DecodeFields(data)
}

// readDir loads every row file in dir, ordered by file name.
func readDir(dir string) ([]lens.Row, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var rows []lens.Row
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, codec := keyOf(e.Name())
		if codec == nil {
			continue
		}
		fields, err := readRow(filepath.Join(dir, e.Name()), codec)
		if err != nil {
			continue
		}
		rows = append(rows, lens.NewRow(key, fields))
	}
	return rows, nil
}
