package catalog

import (
	"strings"

	"chekitimer/internal/config"
)

type rawTemplate struct {
	Group       string   `json:"group"`
	Entity      string   `json:"entity"`
	Name        string   `json:"name"`
	Color       string   `json:"color,omitempty"`
	MemberColor string   `json:"member_color,omitempty"`
	Units       *int     `json:"units,omitempty"`
	Seconds     *int     `json:"seconds,omitempty"`
	Margin      *int     `json:"margin_seconds,omitempty"`
	Targets     []string `json:"targets,omitempty"`
	Dist        *int     `json:"distribution,omitempty"`
}

type rawCatalog struct {
	Templates []rawTemplate `json:"templates"`
}

// normalize applies defaults. Returns false for rows missing an identity.
func (r rawTemplate) normalize() (Template, bool) {
	t := Template{
		Group:         strings.TrimSpace(r.Group),
		Entity:        strings.TrimSpace(r.Entity),
		Name:          strings.TrimSpace(r.Name),
		Color:         strings.TrimSpace(r.Color),
		MemberColor:   strings.TrimSpace(r.MemberColor),
		Seconds:       DefaultSeconds,
		MarginSeconds: DefaultMarginSeconds,
		Targets:       r.Targets,
	}
	if t.Group == "" || t.Entity == "" || t.Name == "" {
		return Template{}, false
	}
	if r.Units != nil && *r.Units >= 0 {
		t.Units = *r.Units
	}
	if r.Seconds != nil && *r.Seconds > 0 {
		t.Seconds = *r.Seconds
	}
	if r.Margin != nil && *r.Margin >= 0 {
		t.MarginSeconds = *r.Margin
	}
	t.Distribution = t.Units
	if r.Dist != nil && *r.Dist >= 0 {
		t.Distribution = *r.Dist
	}
	if len(t.Targets) == 0 {
		t.Targets = []string{t.Entity}
	}
	return t, true
}

// ParseYAML decodes a catalog document ("templates:" list) in YAML or JSON,
// picked by the path extension. Unknown keys are rejected.
func ParseYAML(path string, data []byte) (templates []Template, skipped int, err error) {
	var rc rawCatalog
	if err := config.DecodeStrict(path, data, &rc); err != nil {
		return nil, 0, err
	}
	for _, r := range rc.Templates {
		t, ok := r.normalize()
		if !ok {
			skipped++
			continue
		}
		templates = append(templates, t)
	}
	return templates, skipped, nil
}
