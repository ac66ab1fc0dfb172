package lens

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance.
var validate = validator.New()

// Options are the per-subscription feed options.
type Options struct {
	// OutOfFocus enables Remove notifications for rows that are deleted or
	// leave the result window.
	OutOfFocus bool `yaml:"oof" json:"oof"`

	// Conflation is the minimum spacing between delivered updates for the
	// same key. Zero disables conflation.
	Conflation time.Duration `yaml:"conflation" json:"conflation" validate:"min=0"`

	// TopN bounds the result window. Zero means unbounded.
	TopN int `yaml:"top_n" json:"top_n" validate:"min=0"`

	// SkipN offsets the result window.
	SkipN int `yaml:"skip_n" json:"skip_n" validate:"min=0"`
}

// Windowed reports whether the options restrict the result window.
func (o Options) Windowed() bool {
	return o.TopN > 0 || o.SkipN > 0
}

// String encodes the options in feed syntax, e.g.
// "oof,conflation=3000ms,top_n=20,skip_n=0".
func (o Options) String() string {
	var parts []string
	if o.OutOfFocus {
		parts = append(parts, "oof")
	}
	if o.Conflation > 0 {
		parts = append(parts, "conflation="+strconv.FormatInt(o.Conflation.Milliseconds(), 10)+"ms")
	}
	if o.TopN > 0 {
		parts = append(parts, "top_n="+strconv.Itoa(o.TopN))
	}
	if o.TopN > 0 || o.SkipN > 0 {
		parts = append(parts, "skip_n="+strconv.Itoa(o.SkipN))
	}
	return strings.Join(parts, ",")
}

// ParseOptions decodes a feed options string. Unknown options are rejected.
// A conflation value without a unit is read as milliseconds.
func ParseOptions(s string) (Options, error) {
	var o Options
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, hasVal := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		val = strings.TrimSpace(val)
		switch name {
		case "oof":
			o.OutOfFocus = true
		case "conflation":
			if !hasVal {
				return Options{}, fmt.Errorf("option conflation requires a value")
			}
			d, err := parseInterval(val)
			if err != nil {
				return Options{}, fmt.Errorf("option conflation: %w", err)
			}
			o.Conflation = d
		case "top_n", "skip_n":
			if !hasVal {
				return Options{}, fmt.Errorf("option %s requires a value", name)
			}
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return Options{}, fmt.Errorf("option %s: invalid count %q", name, val)
			}
			if name == "top_n" {
				o.TopN = n
			} else {
				o.SkipN = n
			}
		default:
			return Options{}, fmt.Errorf("unknown option %q", name)
		}
	}
	return o, nil
}

func parseInterval(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative interval %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative interval %q", s)
	}
	return d, nil
}

// Subscription is a request to a feed session: which topic, how the feed
// should rank rows, and the feed options.
type Subscription struct {
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
	OrderBy Ordering `yaml:"order_by" json:"order_by"`
	Options Options  `yaml:"options" json:"options"`
}

// NewSubscription builds a subscription from its textual parts, e.g.
//
//	lens.NewSubscription("market_data", "/bid DESC", "oof,conflation=3000ms,top_n=20,skip_n=0")
func NewSubscription(topic, orderBy, options string) (Subscription, error) {
	ord, err := ParseOrdering(orderBy)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	opts, err := ParseOptions(options)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	sub := Subscription{Topic: topic, OrderBy: ord, Options: opts}
	if err := sub.Validate(); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// Validate checks the subscription's struct constraints.
func (s Subscription) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	return nil
}

// String renders the subscription for diagnostics.
func (s Subscription) String() string {
	var b strings.Builder
	b.WriteString(s.Topic)
	if !s.OrderBy.IsZero() {
		b.WriteString(" order by ")
		b.WriteString(s.OrderBy.String())
	}
	if opts := s.Options.String(); opts != "" {
		b.WriteString(" [")
		b.WriteString(opts)
		b.WriteString("]")
	}
	return b.String()
}
