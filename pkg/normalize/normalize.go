// Package normalize turns the loosely shaped JSON bodies of the quality trend endpoints into
// canonical values. Nothing in here performs I/O and nothing panics on malformed input:
// missing data comes back as an empty result carrying a message.
package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// listMetaKeys mark an object as an envelope rather than a keyed collection
var listMetaKeys = []string{"success", "message", "status", "error"}

// seriesMetaKeys are the top-level keys that never name a tag
var seriesMetaKeys = []string{"success", "message", "status", "error", "debug", "timestamp", "count"}

// ListResult is the list shape: an ordered sequence of entity values
type ListResult struct {
	Items  []any
	Source string
	// Keys holds the object key of each item when Source is "values"
	Keys    []string
	Message string
}

// Found reports whether any entity could be extracted
func (r ListResult) Found() bool {
	return len(r.Items) > 0
}

// List extracts an ordered entity list from a tag catalog or plant body.
//
// Locations are tried in order and the first non-empty one wins: the body itself when it is
// an array, .data, .plants, .tags, .tagList, and finally the values of a plain object that
// carries no envelope keys.
func List(body any) ListResult {
	if arr, ok := body.([]any); ok && len(arr) > 0 {
		return ListResult{Items: arr, Source: "array"}
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return ListResult{Message: "response is not a list or object"}
	}

	for _, key := range []string{"data", "plants", "tags", "tagList"} {
		if arr, ok := obj[key].([]any); ok && len(arr) > 0 {
			return ListResult{Items: arr, Source: key}
		}
	}

	if !hasAny(obj, listMetaKeys) && len(obj) > 0 {
		keys := sortedKeys(obj)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, obj[k])
		}
		return ListResult{Items: items, Source: "values", Keys: keys}
	}

	msg := "no list data in response"
	if m := Message(obj); m != "" {
		msg = m
	}
	return ListResult{Message: msg}
}

// Envelope reports the success flag and message of a body. The flag is read at the top
// level first and under .data second; a body without any flag is not successful.
func Envelope(body any) (bool, string) {
	obj, ok := body.(map[string]any)
	if !ok {
		return false, ""
	}
	msg := Message(obj)

	if ok, found := Bool(obj["success"]); found {
		return ok, msg
	}
	if inner, isObj := obj["data"].(map[string]any); isObj {
		if ok, found := Bool(inner["success"]); found {
			if msg == "" {
				msg = Message(inner)
			}
			return ok, msg
		}
	}
	return false, msg
}

// Failed reports whether a body carries an explicit success:false, at the top level or
// under .data, together with its message. A body without any flag has not failed.
func Failed(body any) (bool, string) {
	obj, ok := body.(map[string]any)
	if !ok {
		return false, ""
	}
	msg := Message(obj)
	if ok, found := Bool(obj["success"]); found {
		return !ok, msg
	}
	if inner, isObj := obj["data"].(map[string]any); isObj {
		if ok, found := Bool(inner["success"]); found {
			if msg == "" {
				msg = Message(inner)
			}
			return !ok, msg
		}
	}
	return false, msg
}

// Message returns the human readable message of an envelope, if any
func Message(obj map[string]any) string {
	for _, key := range []string{"message", "error"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Bool interprets JSON booleans and their common string/number spellings
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

// String interprets a scalar as a string
func String(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	}
	return ""
}

// Float interprets a scalar as a finite number. Nil, empty strings and garbage are absent.
func Float(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// first returns the first present, non-null value among keys
func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func hasAny(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func isMeta(key string, meta []string) bool {
	for _, m := range meta {
		if key == m {
			return true
		}
	}
	return false
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
