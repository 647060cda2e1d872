package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSONB represents a PostgreSQL JSONB field
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// StringSet is a normalized, sorted, de-duplicated list of tags stored as a JSON array.
// Skills, languages, conversation tags and notification channels all use it.
type StringSet []string

// NewStringSet lower-cases, trims and de-duplicates the given values
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	out := make(StringSet, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether v (case-insensitive) is in the set
func (s StringSet) Contains(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, item := range s {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether s is a superset of required
func (s StringSet) ContainsAll(required []string) bool {
	for _, r := range required {
		if strings.TrimSpace(r) == "" {
			continue
		}
		if !s.Contains(r) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether s shares at least one value with other
func (s StringSet) ContainsAny(other []string) bool {
	for _, o := range other {
		if s.Contains(o) {
			return true
		}
	}
	return false
}

// Union returns a new set holding the values of both sets
func (s StringSet) Union(other []string) StringSet {
	all := make([]string, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewStringSet(all...)
}

// Value implements the driver.Valuer interface for StringSet
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for StringSet
func (s *StringSet) Scan(value interface{}) error {
	if value == nil {
		*s = StringSet{}
		return nil
	}

	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan %T into StringSet", value)
	}

	var values []string
	if err := json.Unmarshal(bytes, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
