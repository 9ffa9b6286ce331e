package model

import (
	"encoding/json"
	"sort"
)

// Template is a versioned assessment form made of weighted themes.
type Template struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Version     string  `json:"version" yaml:"version"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Themes      []Theme `json:"themes" yaml:"themes"`

	byID   map[string]*Item
	byCode map[string]*Item
	themes map[string]*Theme
}

// Theme is a weighted group of items.
type Theme struct {
	ID           string  `json:"id" yaml:"id"`
	Slug         string  `json:"slug" yaml:"slug"`
	Name         string  `json:"name" yaml:"name"`
	Weight       float64 `json:"weight" yaml:"weight"`
	DisplayOrder int     `json:"display_order" yaml:"display_order"`
	Items        []Item  `json:"items" yaml:"items"`
}

// Item is one question of the form.
type Item struct {
	ID           string          `json:"id" yaml:"id"`
	ThemeID      string          `json:"theme_id" yaml:"-"`
	Code         string          `json:"code" yaml:"code"`
	Label        string          `json:"label" yaml:"label"`
	FieldType    FieldType       `json:"field_type" yaml:"field_type"`
	FieldConfig  FieldConfig     `json:"field_config" yaml:"field_config"`
	Rubric       json.RawMessage `json:"scoring_rubric,omitempty" yaml:"-"`
	Weight       float64         `json:"weight" yaml:"weight"`
	Scoreable    bool            `json:"is_scoreable" yaml:"scoreable"`
	Required     bool            `json:"is_required" yaml:"required"`
	DisplayOrder int             `json:"display_order" yaml:"display_order"`
}

// FieldConfig carries per-type options for an item.
type FieldConfig struct {
	Options       []string `json:"options,omitempty" yaml:"options,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MaxLength     int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Placeholder   string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Label         string   `json:"label,omitempty" yaml:"label,omitempty"`
	ValueType     string   `json:"value_type,omitempty" yaml:"value_type,omitempty"`
	Years         int      `json:"years,omitempty" yaml:"years,omitempty"`
	HasGender     bool     `json:"has_gender,omitempty" yaml:"has_gender,omitempty"`
	Bands         []string `json:"bands,omitempty" yaml:"bands,omitempty"`
	Currencies    []string `json:"currencies,omitempty" yaml:"currencies,omitempty"`
	AcceptedTypes []string `json:"accepted_types,omitempty" yaml:"accepted_types,omitempty"`
	MaxSizeMB     int      `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	FollowUp      string   `json:"follow_up,omitempty" yaml:"follow_up,omitempty"`
	Formula       string   `json:"formula,omitempty" yaml:"formula,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Index builds the lookup tables and stamps ThemeID on every item. It must be
// called after the template is decoded and before lookups are used.
func (t *Template) Index() {
	t.byID = make(map[string]*Item)
	t.byCode = make(map[string]*Item)
	t.themes = make(map[string]*Theme)

	sort.SliceStable(t.Themes, func(i, j int) bool {
		return t.Themes[i].DisplayOrder < t.Themes[j].DisplayOrder
	})
	for ti := range t.Themes {
		th := &t.Themes[ti]
		t.themes[th.ID] = th
		sort.SliceStable(th.Items, func(i, j int) bool {
			return th.Items[i].DisplayOrder < th.Items[j].DisplayOrder
		})
		for ii := range th.Items {
			it := &th.Items[ii]
			it.ThemeID = th.ID
			t.byID[it.ID] = it
			t.byCode[it.Code] = it
		}
	}
}

// ItemByID returns the item with the given id, or nil.
func (t *Template) ItemByID(id string) *Item {
	if t.byID == nil {
		t.Index()
	}
	return t.byID[id]
}

// ItemByCode returns the item with the given code, or nil.
func (t *Template) ItemByCode(code string) *Item {
	if t.byCode == nil {
		t.Index()
	}
	return t.byCode[code]
}

// Theme returns the theme with the given id, or nil.
func (t *Template) Theme(id string) *Theme {
	if t.themes == nil {
		t.Index()
	}
	return t.themes[id]
}

// Items returns every item in display order.
func (t *Template) Items() []Item {
	var out []Item
	for _, th := range t.Themes {
		out = append(out, th.Items...)
	}
	return out
}

// ItemCount returns the number of items in the template.
func (t *Template) ItemCount() int {
	n := 0
	for _, th := range t.Themes {
		n += len(th.Items)
	}
	return n
}
