package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

//go:embed default_schema.yaml
var defaultSchemaYAML []byte

// FieldSpec declares one canonical field.
type FieldSpec struct {
	Name        string           `yaml:"name" json:"name"`
	Type        entity.FieldType `yaml:"type" json:"type"`
	Required    bool             `yaml:"required" json:"required"`
	Group       string           `yaml:"group" json:"group,omitempty"`
	Aliases     []string         `yaml:"aliases" json:"aliases,omitempty"`
	Description string           `yaml:"description" json:"description,omitempty"`
}

// Element returns the array element type for array fields.
func (f FieldSpec) Element() ElementType {
	if f.Type == entity.FieldNumberArray {
		return ElementNumber
	}
	return ElementText
}

// Schema is the canonical field list every record is normalized against.
type Schema struct {
	Fields []FieldSpec `yaml:"fields" json:"fields"`

	byName map[string]int
	alias  map[string]string
}

// DefaultSchema returns the embedded schema.
func DefaultSchema() *Schema {
	s, err := ParseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded schema: %v", err))
	}
	return s
}

// LoadSchema reads a YAML schema file; an empty path yields the default.
func LoadSchema(path string) (*Schema, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSchema(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("read schema %s", path), err)
	}
	return ParseSchema(b)
}

// ParseSchema decodes and checks a YAML schema document.
func ParseSchema(b []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, common.NewAppError(common.CodeConfig, "invalid schema yaml", err)
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) index() error {
	if len(s.Fields) == 0 {
		return common.NewAppError(common.CodeConfig, "schema declares no fields", common.ErrInvalidInput)
	}
	s.byName = make(map[string]int, len(s.Fields))
	s.alias = map[string]string{}
	for i, f := range s.Fields {
		name := canonicalKey(f.Name)
		if name == "" {
			return common.NewAppError(common.CodeConfig, fmt.Sprintf("field %d has no name", i), common.ErrInvalidInput)
		}
		switch f.Type {
		case entity.FieldString, entity.FieldNumber, entity.FieldDate, entity.FieldMoney,
			entity.FieldStringArray, entity.FieldNumberArray:
		default:
			return common.NewAppError(common.CodeConfig, fmt.Sprintf("field %s: unknown type %q", f.Name, f.Type), common.ErrInvalidInput)
		}
		if _, dup := s.byName[name]; dup {
			return common.NewAppError(common.CodeConfig, "duplicate field "+f.Name, common.ErrInvalidInput)
		}
		s.Fields[i].Name = name
		s.byName[name] = i
		for _, a := range f.Aliases {
			s.alias[canonicalKey(a)] = name
		}
	}
	return nil
}

// Field looks up a field by name or alias.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	if s.byName == nil {
		if err := s.index(); err != nil {
			return FieldSpec{}, false
		}
	}
	key := canonicalKey(name)
	if i, ok := s.byName[key]; ok {
		return s.Fields[i], true
	}
	if canon, ok := s.alias[key]; ok {
		return s.Fields[s.byName[canon]], true
	}
	return FieldSpec{}, false
}

// Required lists required field names in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Groups maps each conflict group to its member fields in declaration order.
func (s *Schema) Groups() map[string][]string {
	out := map[string][]string{}
	for _, f := range s.Fields {
		if f.Group != "" {
			out[f.Group] = append(out[f.Group], f.Name)
		}
	}
	return out
}

// GroupNames returns the group keys in a stable order.
func (s *Schema) GroupNames() []string {
	groups := s.Groups()
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// ArrayFields lists array-typed fields and their element type.
func (s *Schema) ArrayFields() map[string]ElementType {
	out := map[string]ElementType{}
	for _, f := range s.Fields {
		if f.Type.IsArray() {
			out[f.Name] = f.Element()
		}
	}
	return out
}

func canonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
