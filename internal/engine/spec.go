package engine

import (
	"errors"
	"strings"
)

// ErrEmptySpec is returned by Spec.Validate for a spec with no items.
// Callers check it before Start; the registry itself never rejects a spec.
var ErrEmptySpec = errors.New("timer spec has no items")

// keySep joins group and entity into a session key ("group__entity").
const keySep = "__"

// JoinKey builds the session key for an entity inside a group.
func JoinKey(group, entity string) string {
	return group + keySep + entity
}

// SplitKey is the inverse of JoinKey. A key without separator is treated as
// an entity with an empty group.
func SplitKey(key string) (group, entity string) {
	g, e, ok := strings.Cut(key, keySep)
	if !ok {
		return "", key
	}
	return g, e
}

// Item is one selected line-item of a timer.
type Item struct {
	Name          string
	Seconds       int
	Units         int
	Distribution  int
	MarginSeconds int
	Color         string
	MemberColor   string
}

// Spec is an immutable, ordered bundle of items describing one run of work.
type Spec struct {
	items []Item
}

// NewSpec copies items into a new Spec.
func NewSpec(items ...Item) Spec {
	return Spec{items: append([]Item(nil), items...)}
}

func (s Spec) Validate() error {
	if len(s.items) == 0 {
		return ErrEmptySpec
	}
	return nil
}

// Items returns a copy of the items in selection order.
func (s Spec) Items() []Item { return append([]Item(nil), s.items...) }

func (s Spec) Len() int { return len(s.items) }

func (s Spec) TotalSeconds() int {
	n := 0
	for _, it := range s.items {
		n += it.Seconds
	}
	return n
}

func (s Spec) TotalUnits() int {
	n := 0
	for _, it := range s.items {
		n += it.Units
	}
	return n
}

func (s Spec) Distribution() int {
	n := 0
	for _, it := range s.items {
		n += it.Distribution
	}
	return n
}

// MarginSeconds is the first item's margin; it governs the whole composite timer.
func (s Spec) MarginSeconds() int {
	if len(s.items) == 0 {
		return 0
	}
	return s.items[0].MarginSeconds
}

// Color is the first item's member color.
func (s Spec) Color() string {
	if len(s.items) == 0 {
		return ""
	}
	return s.items[0].MemberColor
}

// ItemNames joins item names with ",".
func (s Spec) ItemNames() string {
	names := make([]string, 0, len(s.items))
	for _, it := range s.items {
		names = append(names, it.Name)
	}
	return strings.Join(names, ",")
}
