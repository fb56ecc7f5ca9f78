package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONData is raw JSON stored in a jsonb column.
type JSONData []byte

// NewJSONData marshals v, nil stays nil.
func NewJSONData(v any) (JSONData, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return data, nil
}

// Scan implements sql.Scanner interface
func (n *JSONData) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*n = append((*n)[0:0], v...)
		return nil
	case string:
		*n = []byte(v)
		return nil
	default:
		return fmt.Errorf("cannot scan type %T into JSONData", value)
	}
}

// Value implements driver.Valuer interface
func (n JSONData) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return []byte(n), nil
}

// MarshalJSON implements json.Marshaler - returns raw JSON
func (n JSONData) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return n, nil
}

// UnmarshalJSON implements json.Unmarshaler - stores raw JSON
func (n *JSONData) UnmarshalJSON(data []byte) error {
	if data == nil {
		*n = nil
		return nil
	}
	*n = append((*n)[0:0], data...)
	return nil
}

// Decode unmarshals the stored JSON into dest.
func (n JSONData) Decode(dest any) error {
	if n == nil {
		return nil
	}
	return json.Unmarshal(n, dest)
}
