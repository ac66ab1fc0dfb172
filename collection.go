package lens

// Collection is an ordered sequence of rows, unique by key.
//
// Collections are persistent: Upsert, Remove and Append return a new
// Collection and leave the receiver untouched, so a slice handed to a sink
// can never change underneath it. The zero Collection is empty and usable.
type Collection struct {
	rows  []Row
	index map[string]int
}

// NewCollection builds a collection from rows. A later row with a key that
// already appeared replaces the earlier one in its original position.
func NewCollection(rows ...Row) Collection {
	out := make([]Row, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		if i, ok := index[r.Key]; ok {
			out[i] = r
			continue
		}
		index[r.Key] = len(out)
		out = append(out, r)
	}
	return Collection{rows: out, index: index}
}

// Len returns the number of rows.
func (c Collection) Len() int { return len(c.rows) }

// Rows returns the rows in order. The returned slice must not be modified.
func (c Collection) Rows() []Row { return c.rows }

// Get returns the row for key and whether it exists.
func (c Collection) Get(key string) (Row, bool) {
	i, ok := c.index[key]
	if !ok {
		return Row{}, false
	}
	return c.rows[i], true
}

// IndexOf returns the position of key, or -1.
func (c Collection) IndexOf(key string) int {
	if i, ok := c.index[key]; ok {
		return i
	}
	return -1
}

// Keys returns the row keys in order.
func (c Collection) Keys() []string {
	keys := make([]string, len(c.rows))
	for i, r := range c.rows {
		keys[i] = r.Key
	}
	return keys
}

// Append adds r at the end, or replaces the row with the same key in place.
func (c Collection) Append(r Row) Collection {
	if i, ok := c.index[r.Key]; ok {
		return c.replace(i, r)
	}
	rows := make([]Row, len(c.rows), len(c.rows)+1)
	copy(rows, c.rows)
	rows = append(rows, r)
	index := c.cloneIndex(1)
	index[r.Key] = len(rows) - 1
	return Collection{rows: rows, index: index}
}

// Upsert merges fields into the row with key, preserving its position, or
// appends a new row when key is unknown. changed is false when the merge would
// not alter the existing row, in which case the receiver is returned as is.
func (c Collection) Upsert(key string, fields Fields) (next Collection, changed bool) {
	if i, ok := c.index[key]; ok {
		cur := c.rows[i]
		if !cur.Changes(fields) {
			return c, false
		}
		return c.replace(i, cur.Merge(fields)), true
	}
	return c.Append(NewRow(key, fields)), true
}

// Remove deletes the row with key, keeping the order of the others. removed
// is false when no row matched.
func (c Collection) Remove(key string) (next Collection, removed bool) {
	i, ok := c.index[key]
	if !ok {
		return c, false
	}
	rows := make([]Row, 0, len(c.rows)-1)
	rows = append(rows, c.rows[:i]...)
	rows = append(rows, c.rows[i+1:]...)
	index := make(map[string]int, len(rows))
	for j, r := range rows {
		index[r.Key] = j
	}
	return Collection{rows: rows, index: index}, true
}

func (c Collection) replace(i int, r Row) Collection {
	rows := make([]Row, len(c.rows))
	copy(rows, c.rows)
	rows[i] = r
	return Collection{rows: rows, index: c.index}
}

func (c Collection) cloneIndex(extra int) map[string]int {
	index := make(map[string]int, len(c.index)+extra)
	for k, v := range c.index {
		index[k] = v
	}
	return index
}
