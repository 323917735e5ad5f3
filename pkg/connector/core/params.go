package core

import (
	"fmt"
	"strconv"
)

// String returns the config value for key, or "" when absent.
func (p OpenParams) String(key string) string {
	return p.StringDefault(key, "")
}

// StringDefault returns the config value for key, or def when absent.
func (p OpenParams) StringDefault(key, def string) string {
	v, ok := p.Config[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Int returns the config value for key as an int. Values arriving from
// JSON decode as float64; those convert loss-free when whole.
func (p OpenParams) Int(key string, def int) int {
	v, ok := p.Config[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// Bool returns the config value for key as a bool.
func (p OpenParams) Bool(key string, def bool) bool {
	v, ok := p.Config[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// StringList returns the config value for key as a string slice,
// accepting both []string and the []interface{} JSON decode produces.
func (p OpenParams) StringList(key string) []string {
	v, ok := p.Config[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", item))
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}

// Cred returns the credential value for key, or "" when absent.
func (p OpenParams) Cred(key string) string {
	if p.Credentials == nil {
		return ""
	}
	return p.Credentials[key]
}
