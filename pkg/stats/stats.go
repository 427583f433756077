// Package stats computes the statistics overlay of a tag chart: mean, extremes, population
// standard deviation, out-of-bounds counts and process capability indices.
//
// Every function is pure and total. Samples that do not parse as a number are skipped,
// never counted as zero.
package stats

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

// Basic holds the plain descriptive statistics of a sample set
type Basic struct {
	Avg   float64
	Max   float64
	Min   float64
	Stdev float64
}

// Capability holds the process capability indices. A nil index is not computable.
type Capability struct {
	Cpk *float64
	Cpl *float64
	Cpu *float64
}

// valueKeys are the object keys a sample value may be stored under, in priority order
var valueKeys = []string{"value", "Value", "val"}

// ParseValue extracts a finite number from a raw sample.
//
// Accepted: numeric Go values, numeric strings, json.Number, types.Sample, *float64 and
// objects carrying the value under one of the value aliases.
func ParseValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	case *float64:
		if v == nil {
			return 0, false
		}
		return finite(*v)
	case types.Sample:
		return ParseValue(v.Value)
	case *types.Sample:
		if v == nil {
			return 0, false
		}
		return ParseValue(v.Value)
	case map[string]any:
		for _, k := range valueKeys {
			if val, ok := v[k]; ok && val != nil {
				return ParseValue(val)
			}
		}
		return 0, false
	}
	return 0, false
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Values returns the parseable numbers of samples in input order
func Values[S any](samples []S) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if f, ok := ParseValue(s); ok {
			out = append(out, f)
		}
	}
	return out
}

// ComputeStatistics returns avg, max, min and population stdev of the parseable samples.
// An empty parsed set yields all zeros.
func ComputeStatistics[S any](samples []S) Basic {
	return basic(Values(samples))
}

func basic(values []float64) Basic {
	if len(values) == 0 {
		return Basic{}
	}

	sum := 0.0
	maxV, minV := values[0], values[0]
	for _, v := range values {
		sum += v
		if v > maxV {
			maxV = v
		}
		if v < minV {
			minV = v
		}
	}
	n := float64(len(values))
	avg := sum / n

	sq := 0.0
	for _, v := range values {
		d := v - avg
		sq += d * d
	}

	return Basic{
		Avg:   avg,
		Max:   maxV,
		Min:   minV,
		Stdev: math.Sqrt(sq / n),
	}
}

// ComputeCapability returns Cpl, Cpu and Cpk for the given limits and standard deviation.
// All three are nil when stdev is zero or nothing parses.
func ComputeCapability[S any](samples []S, lower, upper *float64, stdev float64) Capability {
	return capability(Values(samples), lower, upper, stdev)
}

func capability(values []float64, lower, upper *float64, stdev float64) Capability {
	if len(values) == 0 || stdev == 0 || math.IsNaN(stdev) {
		return Capability{}
	}
	avg := basic(values).Avg

	var c Capability
	if l, ok := limit(lower); ok {
		c.Cpl = types.Float((avg - l) / (3 * stdev))
	}
	if u, ok := limit(upper); ok {
		c.Cpu = types.Float((u - avg) / (3 * stdev))
	}

	switch {
	case c.Cpl != nil && c.Cpu != nil:
		c.Cpk = types.Float(math.Min(*c.Cpl, *c.Cpu))
	case c.Cpl != nil:
		c.Cpk = types.Float(*c.Cpl)
	case c.Cpu != nil:
		c.Cpk = types.Float(*c.Cpu)
	}
	return c
}

// CountOutOfBounds counts parsed samples strictly below lower or strictly above upper.
// Without any limit the count is 0.
func CountOutOfBounds[S any](samples []S, lower, upper *float64) int {
	return outOfBounds(Values(samples), lower, upper)
}

func outOfBounds(values []float64, lower, upper *float64) int {
	l, hasL := limit(lower)
	u, hasU := limit(upper)
	if !hasL && !hasU {
		return 0
	}

	n := 0
	for _, v := range values {
		if (hasL && v < l) || (hasU && v > u) {
			n++
		}
	}
	return n
}

// Summarize builds the full statistics overlay. Only the control limits (LSL/USL) feed the
// capability indices and the out-of-bounds count.
func Summarize[S any](samples []S, limits types.Limits) types.Summary {
	values := Values(samples)
	b := basic(values)
	c := capability(values, limits.LSL, limits.USL, b.Stdev)

	return types.Summary{
		Avg:              b.Avg,
		Max:              b.Max,
		Min:              b.Min,
		Stdev:            b.Stdev,
		OutOfBoundsCount: outOfBounds(values, limits.LSL, limits.USL),
		Cpk:              c.Cpk,
		Cpl:              c.Cpl,
		Cpu:              c.Cpu,
	}
}

func limit(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return finite(*p)
}
