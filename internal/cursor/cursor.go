package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor records the position of a pager. Keyset pagers fill SortFields,
// LastValues and LastID; offset pagers only fill Offset.
type Cursor struct {
	Family     string        `json:"family,omitempty"`
	SortFields []string      `json:"sort_fields,omitempty"`
	LastValues []interface{} `json:"last_values,omitempty"`
	LastID     string        `json:"last_id,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// Encode serializes the cursor to an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	if len(c.SortFields) != len(c.LastValues) {
		return "", fmt.Errorf("sort fields and last values length mismatch")
	}

	jsonData, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.URLEncoding.EncodeToString(jsonData), nil
}

// Decode deserializes a cursor from an opaque base64 string
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty cursor string")
	}

	jsonData, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	if len(c.SortFields) != len(c.LastValues) {
		return nil, fmt.Errorf("cursor sort fields and values length mismatch")
	}
	if c.Offset < 0 {
		return nil, fmt.Errorf("cursor offset is negative")
	}
	if c.LastID == "" && c.Offset == 0 {
		return nil, fmt.Errorf("cursor missing position")
	}

	return &c, nil
}

// BuildWhereClause constructs the keyset predicate for ascending order.
// For ORDER BY a, b, key it generates:
//
//	((a > ?) OR (a = ? AND b > ?) OR (a = ? AND b = ? AND key > ?))
func (c *Cursor) BuildWhereClause(idField string) (string, []interface{}, error) {
	if len(c.SortFields) != len(c.LastValues) {
		return "", nil, fmt.Errorf("sort fields and last values length mismatch")
	}
	if idField == "" {
		return "", nil, fmt.Errorf("id field required")
	}

	var params []interface{}
	var orConditions []string

	// Level i: equality on fields 0..i-1, comparison on field i
	for i := 0; i < len(c.SortFields); i++ {
		var andParts []string
		for j := 0; j < i; j++ {
			andParts = append(andParts, fmt.Sprintf("%s = ?", c.SortFields[j]))
			params = append(params, c.LastValues[j])
		}
		andParts = append(andParts, fmt.Sprintf("%s > ?", c.SortFields[i]))
		params = append(params, c.LastValues[i])
		orConditions = append(orConditions, "("+strings.Join(andParts, " AND ")+")")
	}

	// Key tie-breaker
	var andParts []string
	for j := 0; j < len(c.SortFields); j++ {
		andParts = append(andParts, fmt.Sprintf("%s = ?", c.SortFields[j]))
		params = append(params, c.LastValues[j])
	}
	andParts = append(andParts, fmt.Sprintf("%s > ?", idField))
	params = append(params, c.LastID)
	orConditions = append(orConditions, "("+strings.Join(andParts, " AND ")+")")

	return "(" + strings.Join(orConditions, " OR ") + ")", params, nil
}

// NewCursor creates a new keyset cursor from the last row values
func NewCursor(sortFields []string, lastValues []interface{}, lastID string) (*Cursor, error) {
	if len(sortFields) != len(lastValues) {
		return nil, fmt.Errorf("sort fields and last values length mismatch")
	}
	if lastID == "" {
		return nil, fmt.Errorf("last ID required")
	}

	return &Cursor{
		SortFields: sortFields,
		LastValues: lastValues,
		LastID:     lastID,
	}, nil
}
