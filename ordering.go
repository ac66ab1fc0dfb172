package lens

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering is a parsed order-by clause such as "/bid DESC".
type Ordering struct {
	Field      string `yaml:"field" json:"field"`
	Descending bool   `yaml:"descending" json:"descending"`
}

// ParseOrdering parses "/field [ASC|DESC]". The leading slash is optional and
// the direction defaults to ascending. An empty clause yields the zero
// Ordering, which keeps arrival order.
func ParseOrdering(s string) (Ordering, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return Ordering{}, nil
	case 1, 2:
	default:
		return Ordering{}, fmt.Errorf("invalid order-by clause %q", s)
	}

	field := strings.TrimPrefix(fields[0], "/")
	if field == "" || strings.Contains(field, "/") {
		return Ordering{}, fmt.Errorf("invalid order-by field %q", fields[0])
	}

	ord := Ordering{Field: field}
	if len(fields) == 2 {
		switch strings.ToUpper(fields[1]) {
		case "ASC":
		case "DESC":
			ord.Descending = true
		default:
			return Ordering{}, fmt.Errorf("invalid order-by direction %q", fields[1])
		}
	}
	return ord, nil
}

// IsZero reports whether no ordering field is set.
func (o Ordering) IsZero() bool { return o.Field == "" }

// String renders the clause in feed syntax.
func (o Ordering) String() string {
	if o.IsZero() {
		return ""
	}
	if o.Descending {
		return "/" + o.Field + " DESC"
	}
	return "/" + o.Field + " ASC"
}

// Compare orders two rows by the ordering field. Rows missing the field sort
// as null. Ties compare equal.
func (o Ordering) Compare(a, b Row) int {
	if o.IsZero() {
		return 0
	}
	av := a.Fields[o.Field]
	bv := b.Fields[o.Field]
	c := av.Compare(bv)
	if o.Descending {
		return -c
	}
	return c
}

// Sort returns a sorted copy of rows. The sort is stable, so ties and the
// zero Ordering keep the input order. rows is not modified.
func (o Ordering) Sort(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	if o.IsZero() {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return o.Compare(out[i], out[j]) < 0
	})
	return out
}
