package catalog

import (
	"errors"
	"fmt"
	"sort"

	"chekitimer/internal/engine"
)

const (
	DefaultSeconds       = 60
	DefaultMarginSeconds = 10
)

var (
	ErrUnknownEntity   = errors.New("unknown group/entity")
	ErrUnknownTemplate = errors.New("unknown template")
)

// Template is one selectable line-item for an entity.
type Template struct {
	Group         string   `json:"group"`
	Entity        string   `json:"entity"`
	Name          string   `json:"name"`
	Color         string   `json:"color,omitempty"`
	MemberColor   string   `json:"member_color,omitempty"`
	Units         int      `json:"units"`
	Seconds       int      `json:"seconds"`
	MarginSeconds int      `json:"margin_seconds"`
	Targets       []string `json:"targets,omitempty"`
	Distribution  int      `json:"distribution"`
}

// Key is the engine session key for the template's entity.
func (t Template) Key() string { return engine.JoinKey(t.Group, t.Entity) }

func (t Template) Item() engine.Item {
	return engine.Item{
		Name:          t.Name,
		Seconds:       t.Seconds,
		Units:         t.Units,
		Distribution:  t.Distribution,
		MarginSeconds: t.MarginSeconds,
		Color:         t.Color,
		MemberColor:   t.MemberColor,
	}
}

// Catalog is an immutable, indexed set of templates. Order within an entity
// follows the source file.
type Catalog struct {
	byKey  map[string][]Template
	groups []string
	ents   map[string][]string
	source string
}

func New(source string, templates []Template) *Catalog {
	c := &Catalog{
		byKey:  map[string][]Template{},
		ents:   map[string][]string{},
		source: source,
	}
	for _, t := range templates {
		key := t.Key()
		if _, seen := c.byKey[key]; !seen {
			if _, ok := c.ents[t.Group]; !ok {
				c.groups = append(c.groups, t.Group)
			}
			c.ents[t.Group] = append(c.ents[t.Group], t.Entity)
		}
		c.byKey[key] = append(c.byKey[key], t)
	}
	return c
}

// Source names where the catalog came from (a path or "builtin").
func (c *Catalog) Source() string { return c.source }

// Groups lists group names in first-seen order.
func (c *Catalog) Groups() []string { return append([]string(nil), c.groups...) }

// Entities lists the entities of group in first-seen order.
func (c *Catalog) Entities(group string) []string { return append([]string(nil), c.ents[group]...) }

// Lookup returns the templates for group/entity, or nil.
func (c *Catalog) Lookup(group, entity string) []Template {
	return append([]Template(nil), c.byKey[engine.JoinKey(group, entity)]...)
}

func (c *Catalog) Len() int {
	n := 0
	for _, ts := range c.byKey {
		n += len(ts)
	}
	return n
}

// Keys lists every session key, sorted.
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build turns template names into a spec, keeping selection order. A name
// may repeat. The first selected template's margin governs the timer.
func (c *Catalog) Build(group, entity string, names ...string) (engine.Spec, error) {
	ts, ok := c.byKey[engine.JoinKey(group, entity)]
	if !ok {
		return engine.Spec{}, fmt.Errorf("%w: %s/%s", ErrUnknownEntity, group, entity)
	}
	if len(names) == 0 {
		return engine.Spec{}, engine.ErrEmptySpec
	}
	items := make([]engine.Item, 0, len(names))
	for _, name := range names {
		t, found := findTemplate(ts, name)
		if !found {
			return engine.Spec{}, fmt.Errorf("%w: %q for %s/%s", ErrUnknownTemplate, name, group, entity)
		}
		items = append(items, t.Item())
	}
	return engine.NewSpec(items...), nil
}

func findTemplate(ts []Template, name string) (Template, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}
