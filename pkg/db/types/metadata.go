package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MetadataVersion is the schema version written by this build.
const MetadataVersion = 1

const maxMetadataKeyLen = 64

// Metadata is the typed, versioned key-value payload stored alongside ledger
// entries and webhook records. Stored as {"version":1,"values":{...}}.
//
// Version 0 rows (a bare JSON object of scalars) are upgraded on read.
type Metadata struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values,omitempty"`
}

// NewMetadata builds a current-version payload from key/value pairs.
func NewMetadata(values map[string]string) Metadata {
	m := Metadata{Version: MetadataVersion}
	for k, v := range values {
		m = m.With(k, v)
	}
	return m
}

// With returns a copy with key set to value. Blank keys are ignored.
func (m Metadata) With(key, value string) Metadata {
	key = strings.TrimSpace(key)
	if key == "" {
		return m
	}
	out := Metadata{Version: MetadataVersion, Values: make(map[string]string, len(m.Values)+1)}
	for k, v := range m.Values {
		out.Values[k] = v
	}
	out.Values[key] = value
	return out
}

// Get returns the value for key.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m.Values[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Values))
	for k := range m.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate enforces the write-side schema. The zero value is an empty
// payload and is stored as the current version.
func (m Metadata) Validate() error {
	if m.Version != 0 && m.Version != MetadataVersion {
		return fmt.Errorf("metadata: unsupported version %d", m.Version)
	}
	for k := range m.Values {
		if len(k) > maxMetadataKeyLen {
			return fmt.Errorf("metadata: key %q exceeds %d chars", k, maxMetadataKeyLen)
		}
	}
	return nil
}

func (m Metadata) Value() (driver.Value, error) {
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{Version: MetadataVersion}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("Metadata: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{Version: MetadataVersion}
		return nil
	}
	return m.UnmarshalJSON(raw)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if _, ok := fields["version"]; ok {
		type plain Metadata
		var out plain
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		if out.Version > MetadataVersion {
			return fmt.Errorf("metadata: unsupported version %d", out.Version)
		}
		out.Version = MetadataVersion
		*m = Metadata(out)
		return nil
	}

	// version 0: flat object of scalars
	upgraded := Metadata{Version: MetadataVersion, Values: make(map[string]string, len(fields))}
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			upgraded.Values[k] = s
			continue
		}
		upgraded.Values[k] = strings.TrimSpace(string(v))
	}
	*m = upgraded
	return nil
}

// GormDataType lets AutoMigrate pick a portable column type.
func (Metadata) GormDataType() string {
	return "text"
}
