// Package template loads assessment templates from YAML files.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
	"github.com/sells-group/assessment-engine/internal/scoring"
)

type fileTemplate struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description,omitempty"`
	Themes      []fileTheme `yaml:"themes"`
}

type fileTheme struct {
	ID           string     `yaml:"id"`
	Slug         string     `yaml:"slug"`
	Name         string     `yaml:"name"`
	Weight       float64    `yaml:"weight"`
	DisplayOrder int        `yaml:"display_order"`
	Items        []fileItem `yaml:"items"`
}

type fileItem struct {
	ID           string            `yaml:"id"`
	Code         string            `yaml:"code"`
	Label        string            `yaml:"label"`
	FieldType    model.FieldType   `yaml:"field_type"`
	FieldConfig  model.FieldConfig `yaml:"field_config"`
	Rubric       map[string]any    `yaml:"scoring_rubric,omitempty"`
	Weight       *float64          `yaml:"weight"`
	Scoreable    *bool             `yaml:"scoreable"`
	Required     bool              `yaml:"required,omitempty"`
	DisplayOrder int               `yaml:"display_order"`
}

// LoadFile reads and validates the template at path.
func LoadFile(path string) (*model.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "template: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	tpl, err := Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "template: load %s", filepath.Base(path))
	}
	return tpl, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*model.Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "template: read dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*model.Template, 0, len(names))
	for _, name := range names {
		tpl, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// Decode parses one YAML template. Missing ids are derived from the
// template id, theme slugs and item codes so reloading a file is stable.
func Decode(r io.Reader) (*model.Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ft fileTemplate
	if err := dec.Decode(&ft); err != nil {
		return nil, eris.Wrap(err, "template: decode yaml")
	}
	tpl, err := ft.build()
	if err != nil {
		return nil, err
	}
	if err := Validate(tpl); err != nil {
		return nil, err
	}
	tpl.Index()
	return tpl, nil
}

func (ft fileTemplate) build() (*model.Template, error) {
	tpl := &model.Template{
		ID:          ft.ID,
		Name:        ft.Name,
		Version:     ft.Version,
		Description: strings.TrimSpace(ft.Description),
	}
	if tpl.ID == "" {
		tpl.ID = slugify(ft.Name + "-" + ft.Version)
	}

	for ti, fth := range ft.Themes {
		th := model.Theme{
			ID:           fth.ID,
			Slug:         fth.Slug,
			Name:         fth.Name,
			Weight:       fth.Weight,
			DisplayOrder: fth.DisplayOrder,
		}
		if th.DisplayOrder == 0 {
			th.DisplayOrder = ti + 1
		}
		if th.ID == "" {
			th.ID = tpl.ID + ":" + th.Slug
		}
		for ii, fi := range fth.Items {
			it, err := fi.build(tpl.ID, ii)
			if err != nil {
				return nil, err
			}
			th.Items = append(th.Items, it)
		}
		tpl.Themes = append(tpl.Themes, th)
	}
	return tpl, nil
}

func (fi fileItem) build(templateID string, idx int) (model.Item, error) {
	it := model.Item{
		ID:           fi.ID,
		Code:         fi.Code,
		Label:        strings.TrimSpace(fi.Label),
		FieldType:    fi.FieldType,
		FieldConfig:  fi.FieldConfig,
		Weight:       1,
		Required:     fi.Required,
		DisplayOrder: fi.DisplayOrder,
	}
	if it.ID == "" {
		it.ID = templateID + ":" + it.Code
	}
	if it.DisplayOrder == 0 {
		it.DisplayOrder = idx + 1
	}
	if fi.Weight != nil {
		it.Weight = *fi.Weight
	}
	if fi.Rubric != nil {
		raw, err := json.Marshal(fi.Rubric)
		if err != nil {
			return it, eris.Wrapf(err, "template: item %s: encode rubric", fi.Code)
		}
		it.Rubric = raw
	}
	if fi.Scoreable != nil {
		it.Scoreable = *fi.Scoreable
	} else {
		it.Scoreable = fi.Rubric != nil
	}
	return it, nil
}

// Validate checks structural rules a template must satisfy before it is
// stored: non-empty identity, unique slugs and codes, known field types,
// positive weights summing to one and resolvable formulas.
func Validate(tpl *model.Template) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if tpl.Name == "" {
		add("name is required")
	}
	if tpl.Version == "" {
		add("version is required")
	}
	if len(tpl.Themes) == 0 {
		add("at least one theme is required")
	}

	slugs := make(map[string]bool)
	codes := make(map[string]model.FieldType)
	var total float64
	for _, th := range tpl.Themes {
		if th.Slug == "" {
			add("theme %q has no slug", th.Name)
		} else if slugs[th.Slug] {
			add("duplicate theme slug %q", th.Slug)
		}
		slugs[th.Slug] = true
		if th.Weight <= 0 {
			add("theme %q weight must be positive", th.Slug)
		}
		total += th.Weight

		for _, it := range th.Items {
			if it.Code == "" {
				add("theme %q has an item without a code", th.Slug)
				continue
			}
			if _, dup := codes[it.Code]; dup {
				add("duplicate item code %q", it.Code)
			}
			codes[it.Code] = it.FieldType
			if !model.KnownFieldType(it.FieldType) {
				add("item %s: unknown field type %q", it.Code, it.FieldType)
			}
			if it.Weight < 0 {
				add("item %s: weight must not be negative", it.Code)
			}
			if _, err := scoring.ParseRubric(it.Rubric); err != nil {
				add("item %s: %v", it.Code, err)
			}
		}
	}
	if len(tpl.Themes) > 0 && math.Abs(total-1) > 0.001 {
		add("theme weights sum to %.3f, want 1", total)
	}

	for _, th := range tpl.Themes {
		for _, it := range th.Items {
			if it.FieldType != model.FieldAutoCalculated {
				continue
			}
			checkFormula(it, codes, add)
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("template: invalid %s: %s", tpl.ID, strings.Join(problems, "; "))
	}
	return nil
}

func checkFormula(it model.Item, codes map[string]model.FieldType, add func(string, ...any)) {
	fc := it.FieldConfig
	switch fc.Formula {
	case responses.FormulaRatio, responses.FormulaPercentage:
	default:
		add("item %s: unknown formula %q", it.Code, fc.Formula)
		return
	}
	if len(fc.DependsOn) != 2 {
		add("item %s: formula %s needs two depends_on codes", it.Code, fc.Formula)
		return
	}
	for _, dep := range fc.DependsOn {
		ft, ok := codes[dep]
		switch {
		case !ok:
			add("item %s: depends on unknown item %s", it.Code, dep)
		case ft == model.FieldAutoCalculated:
			add("item %s: depends on calculated item %s", it.Code, dep)
		}
	}
}

// Encode writes tpl as YAML in the same layout Decode reads.
func Encode(w io.Writer, tpl *model.Template) error {
	ft := fileTemplate{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Version:     tpl.Version,
		Description: tpl.Description,
	}
	for _, th := range tpl.Themes {
		fth := fileTheme{
			ID:           th.ID,
			Slug:         th.Slug,
			Name:         th.Name,
			Weight:       th.Weight,
			DisplayOrder: th.DisplayOrder,
		}
		for _, it := range th.Items {
			weight, scoreable := it.Weight, it.Scoreable
			fi := fileItem{
				ID:           it.ID,
				Code:         it.Code,
				Label:        it.Label,
				FieldType:    it.FieldType,
				FieldConfig:  it.FieldConfig,
				Weight:       &weight,
				Scoreable:    &scoreable,
				Required:     it.Required,
				DisplayOrder: it.DisplayOrder,
			}
			if !model.IsNull(it.Rubric) {
				if err := json.Unmarshal(it.Rubric, &fi.Rubric); err != nil {
					return eris.Wrapf(err, "template: item %s: decode rubric", it.Code)
				}
			}
			fth.Items = append(fth.Items, fi)
		}
		ft.Themes = append(ft.Themes, fth)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ft); err != nil {
		return eris.Wrap(err, "template: encode yaml")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "template: encode yaml")
	}
	_, err := w.Write(buf.Bytes())
	return eris.Wrap(err, "template: write yaml")
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
