package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/stats"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// SeriesResult is the keyed-series shape: every requested tag maps to its series
type SeriesResult struct {
	Series      map[string]types.Series
	Synthesized []string
	Message     string
}

// Get returns the series of a tag, empty when unknown
func (r SeriesResult) Get(tag string) types.Series {
	if s, ok := r.Series[tag]; ok {
		return s
	}
	return types.Series{Tag: tag, Samples: []types.Sample{}}
}

// nestedKeys hold the tag mapping one level down in some backends
var nestedKeys = []string{"values", "results", "items"}

var timeKeys = []string{"datetime", "timestamp", "time"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Raw locates the untyped tag -> samples mapping of a multi-tag body.
//
// The .data object is trusted whenever present, whatever the success flag says. Without it
// the top-level keys minus the metadata keys form the mapping. Requested tags that are
// still missing are added with an empty list.
func Raw(body any, requested []string) map[string]any {
	out := make(map[string]any)

	if obj, ok := body.(map[string]any); ok {
		if data := keyedSource(obj); data != nil {
			for k, v := range data {
				out[k] = v
			}
		}
	}

	for _, tag := range requested {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := out[tag]; !ok {
			out[tag] = []any{}
		}
	}
	return out
}

func keyedSource(obj map[string]any) map[string]any {
	if data, ok := obj["data"].(map[string]any); ok {
		// A fetch result wraps the backend envelope one level deeper
		if _, envelope := data["success"]; envelope {
			return keyedSource(data)
		}
		return data
	}

	rest := make(map[string]any)
	for k, v := range obj {
		if isMeta(k, seriesMetaKeys) || k == "data" {
			continue
		}
		if _, isObj := v.(map[string]any); isObj && isMeta(k, nestedKeys) {
			continue
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		return rest
	}

	for _, key := range nestedKeys {
		if nested, ok := obj[key].(map[string]any); ok {
			return nested
		}
	}
	return nil
}

// KeyedSeries normalizes a multi-tag values body into typed, sorted series.
// Every requested tag name is present in the result.
func KeyedSeries(body any, requested []string) SeriesResult {
	raw := Raw(body, requested)

	found := make(map[string]bool)
	if obj, ok := body.(map[string]any); ok {
		if data := keyedSource(obj); data != nil {
			for k := range data {
				found[k] = true
			}
		}
	}

	res := SeriesResult{Series: make(map[string]types.Series, len(raw))}
	for tag, v := range raw {
		s := Series(v)
		s.Tag = tag
		res.Series[tag] = s
	}
	for _, tag := range requested {
		tag = strings.TrimSpace(tag)
		if tag != "" && !found[tag] {
			res.Synthesized = append(res.Synthesized, tag)
		}
	}

	withData := 0
	for _, s := range res.Series {
		if s.Len() > 0 {
			withData++
		}
	}
	if withData == 0 {
		res.Message = "no data found for requested tags"
		if obj, ok := body.(map[string]any); ok {
			if m := Message(obj); m != "" {
				res.Message = m
			}
		}
	}
	return res
}

// Series converts a raw sample array into a series sorted by timestamp. Unparseable values
// are kept as gaps; entries without a usable timestamp are dropped.
func Series(raw any) types.Series {
	s := types.Series{Samples: []types.Sample{}}

	arr, ok := raw.([]any)
	if !ok {
		if obj, isObj := raw.(map[string]any); isObj {
			if nested, isArr := first(obj, "values", "data").([]any); isArr {
				arr = nested
				s.Tag = String(first(obj, "tagname", "name", "tag_name"))
			}
		}
	}

	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ts, ok := Timestamp(first(obj, timeKeys...))
		if !ok {
			continue
		}

		sample := types.Sample{Timestamp: ts}
		if v, ok := stats.ParseValue(obj); ok {
			sample.Value = types.Float(v)
		}
		s.Samples = append(s.Samples, sample)
	}

	s.Sort()
	return s
}

// Timestamp parses the timestamp spellings used by the backends: SQL and RFC 3339 layouts,
// and epoch seconds or milliseconds.
func Timestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return epoch(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f)
		}
	}
	return time.Time{}, false
}

func epoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	// Anything beyond year 5138 in seconds is a millisecond epoch
	if f > 1e11 {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// FormatTimestamp renders a timestamp the way the backend emits it
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
