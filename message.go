package lens

import "fmt"

// Kind is the type of a feed message.
type Kind uint8

const (
	// KindSnapshotBegin opens the bulk snapshot.
	KindSnapshotBegin Kind = iota + 1
	// KindSnapshotRow carries one full row of the snapshot.
	KindSnapshotRow
	// KindSnapshotEnd closes the snapshot.
	KindSnapshotEnd
	// KindRemove signals the keyed entity left the result window.
	KindRemove
	// KindUpsert carries a full or partial row for an entity.
	KindUpsert
)

// Wire command names, as carried in a message header.
const (
	CommandSnapshotBegin = "group_begin"
	CommandSnapshotRow   = "sow"
	CommandSnapshotEnd   = "group_end"
	CommandRemove        = "oof"
	CommandUpsert        = "publish"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSnapshotBegin:
		return "snapshot_begin"
	case KindSnapshotRow:
		return "snapshot_row"
	case KindSnapshotEnd:
		return "snapshot_end"
	case KindRemove:
		return "remove"
	case KindUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// Command returns the wire command name for the kind.
func (k Kind) Command() string {
	switch k {
	case KindSnapshotBegin:
		return CommandSnapshotBegin
	case KindSnapshotRow:
		return CommandSnapshotRow
	case KindSnapshotEnd:
		return CommandSnapshotEnd
	case KindRemove:
		return CommandRemove
	case KindUpsert:
		return CommandUpsert
	default:
		return ""
	}
}

// ParseCommand maps a wire command name to its kind. Besides the canonical
// names, "delete_sow" is accepted as a removal and "p" and "delta_publish" as
// upserts.
func ParseCommand(cmd string) (Kind, error) {
	switch cmd {
	case CommandSnapshotBegin:
		return KindSnapshotBegin, nil
	case CommandSnapshotRow:
		return KindSnapshotRow, nil
	case CommandSnapshotEnd:
		return KindSnapshotEnd, nil
	case CommandRemove, "delete_sow":
		return KindRemove, nil
	case CommandUpsert, "p", "delta_publish":
		return KindUpsert, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// Message is one unit of a subscription feed. Key is set for SnapshotRow,
// Remove and Upsert; Fields for SnapshotRow and Upsert.
type Message struct {
	Kind   Kind
	Key    string
	Fields Fields
}

// SnapshotBegin returns a snapshot-begin message.
func SnapshotBegin() Message { return Message{Kind: KindSnapshotBegin} }

// SnapshotRow returns a snapshot-row message.
func SnapshotRow(key string, fields Fields) Message {
	return Message{Kind: KindSnapshotRow, Key: key, Fields: fields}
}

// SnapshotEnd returns a snapshot-end message.
func SnapshotEnd() Message { return Message{Kind: KindSnapshotEnd} }

// Remove returns a remove message.
func Remove(key string) Message { return Message{Kind: KindRemove, Key: key} }

// Upsert returns an upsert message.
func Upsert(key string, fields Fields) Message {
	return Message{Kind: KindUpsert, Key: key, Fields: fields}
}

// String renders the message for diagnostics.
func (m Message) String() string {
	switch m.Kind {
	case KindSnapshotBegin, KindSnapshotEnd:
		return m.Kind.String()
	case KindRemove:
		return fmt.Sprintf("%s(%s)", m.Kind, m.Key)
	default:
		return fmt.Sprintf("%s(%s, %d fields)", m.Kind, m.Key, len(m.Fields))
	}
}
