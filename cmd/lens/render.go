package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/zoobzio/lens"
)

// renderer writes every grid publish to one output. Grids publish from
// their own goroutines, so writes are serialized.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	format  string
	changed *color.Color
	last    map[string]map[string]lens.Row
}

func newRenderer(w io.Writer, format string) *renderer {
	return &renderer{
		w:       w,
		format:  format,
		changed: color.New(color.FgYellow, color.Bold),
		last:    make(map[string]map[string]lens.Row),
	}
}

// sink returns the sink for one grid. Rows are rendered in the grid's
// ordering; the reconciler keeps arrival order.
func (r *renderer) sink(grid string, ordering lens.Ordering) lens.Sink {
	return lens.SinkFunc(func(_ context.Context, rows []lens.Row) error {
		return r.render(grid, ordering.Sort(rows))
	})
}

func (r *renderer) render(grid string, rows []lens.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.last[grid]
	next := make(map[string]lens.Row, len(rows))
	for _, row := range rows {
		next[row.Key] = row
	}
	r.last[grid] = next

	if r.format == "json" {
		return json.NewEncoder(r.w).Encode(struct {
			Grid string     `json:"grid"`
			Rows []lens.Row `json:"rows"`
		}{grid, rows})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "== %s (%d rows) ==\n", grid, len(rows))
	for _, row := range rows {
		line := formatRow(row)
		if old, ok := prev[row.Key]; !ok || !old.Equal(row) {
			b.WriteString(r.changed.Sprint("* " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func formatRow(row lens.Row) string {
	parts := make([]string, 0, len(row.Fields)+1)
	parts = append(parts, fmt.Sprintf("%-12s", row.Key))
	for _, name := range row.Fields.Names() {
		parts = append(parts, name+"="+row.Fields[name].String())
	}
	return strings.Join(parts, " ")
}
