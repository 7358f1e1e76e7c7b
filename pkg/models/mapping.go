package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a logical lead attribute that a file column can be mapped onto.
type Field string

const (
	FieldName        Field = "name"
	FieldContact     Field = "contact"
	FieldPhone       Field = "phone"
	FieldEmail       Field = "email"
	FieldAddress     Field = "address"
	FieldProvince    Field = "province"
	FieldCity        Field = "city"
	FieldWebsite     Field = "website"
	FieldType        Field = "type"
	FieldRating      Field = "rating"
	FieldReviewCount Field = "reviewCount"
	FieldGoogleURL   Field = "googleUrl"
	FieldSchedule    Field = "schedule"
)

var fields = []Field{
	FieldName, FieldContact, FieldPhone, FieldEmail, FieldAddress, FieldProvince, FieldCity,
	FieldWebsite, FieldType, FieldRating, FieldReviewCount, FieldGoogleURL, FieldSchedule,
}

// Fields returns every mappable field.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

func (f Field) Valid() bool {
	for _, known := range fields {
		if known == f {
			return true
		}
	}
	return false
}

// Unmapped marks a field with no source column.
const Unmapped = -1

// ColumnMapping maps logical fields to zero-based column indexes. A missing key or a
// negative index means the field is unmapped.
type ColumnMapping map[Field]int

// Index returns the column for f, or Unmapped.
func (m ColumnMapping) Index(f Field) int {
	idx, ok := m[f]
	if !ok || idx < 0 {
		return Unmapped
	}
	return idx
}

func (m ColumnMapping) IsMapped(f Field) bool {
	return m.Index(f) != Unmapped
}

// Validate fails when name is unmapped or an unknown field is present.
func (m ColumnMapping) Validate() error {
	var unknown []string
	for f := range m {
		if !f.Valid() {
			unknown = append(unknown, string(f))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown mapping fields: %s", strings.Join(unknown, ", "))
	}
	if !m.IsMapped(FieldName) {
		return fmt.Errorf("column mapping must map the %q field", FieldName)
	}
	return nil
}

func (m *ColumnMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := columnMappingFromRaw(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *ColumnMapping) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := columnMappingFromRaw(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// columnMappingFromRaw accepts numbers, numeric strings, and null/"" for unmapped.
func columnMappingFromRaw(raw map[string]any) (ColumnMapping, error) {
	m := make(ColumnMapping, len(raw))
	for key, value := range raw {
		idx, err := toColumnIndex(value)
		if err != nil {
			return nil, fmt.Errorf("mapping for %q: %w", key, err)
		}
		m[Field(strings.TrimSpace(key))] = idx
	}
	return m, nil
}

func toColumnIndex(value any) (int, error) {
	switch v := value.(type) {
	case nil:
		return Unmapped, nil
	case int:
		return normalizeIndex(v), nil
	case int64:
		return normalizeIndex(int(v)), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("column index %v is not an integer", v)
		}
		return normalizeIndex(int(v)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return Unmapped, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("column index %q is not a number", v)
		}
		return normalizeIndex(n), nil
	default:
		return 0, fmt.Errorf("unsupported column index type %T", value)
	}
}

func normalizeIndex(i int) int {
	if i < 0 {
		return Unmapped
	}
	return i
}
