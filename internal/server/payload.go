package server

import (
	"encoding/json"
	"strconv"

	"whisperd/internal/domain"
)

// payload is a decoded request body. Field accessors return domain errors
// matching how handlers report bad input: wrong JSON types are validation
// failures, unparseable values are malformed data.
type payload map[string]json.RawMessage

func parsePayload(raw json.RawMessage) (payload, bool) {
	if len(raw) == 0 {
		return payload{}, true
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if p == nil {
		p = payload{}
	}
	return p, true
}

// exact reports whether the payload holds exactly the given keys.
func (p payload) exact(keys ...string) bool {
	if len(p) != len(keys) {
		return false
	}
	for _, k := range keys {
		if _, ok := p[k]; !ok {
			return false
		}
	}
	return true
}

func (p payload) has(key string) bool {
	_, ok := p[key]
	return ok
}

// str returns the field as a string.
func (p payload) str(key string) (string, error) {
	raw, ok := p[key]
	if !ok {
		return "", domain.ErrInvalidFormat
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", domain.ErrInvalidFormat
	}
	return s, nil
}

// integer returns the field as an int64. Numbers are truncated; numeric
// strings are parsed.
func (p payload) integer(key string) (int64, error) {
	raw, ok := p[key]
	if !ok {
		return 0, domain.ErrInvalidFormat
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, domain.ErrMalformed
		}
		return n, nil
	}
	return 0, domain.ErrMalformed
}

// boolean returns the field's truthiness: false for false, 0, "", null
// and empty arrays/objects, true otherwise.
func (p payload) boolean(key string) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, domain.ErrInvalidFormat
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s != "", nil
	}
	if string(raw) == "null" {
		return false, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list) > 0, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return len(obj) > 0, nil
	}
	return false, domain.ErrMalformed
}

// strList returns the field as a list of strings.
func (p payload) strList(key string) ([]string, error) {
	raw, ok := p[key]
	if !ok {
		return nil, domain.ErrInvalidFormat
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.ErrMalformed
	}
	return out, nil
}
