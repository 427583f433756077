package stats

import (
	"math"
	"testing"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestComputeStatisticsEmpty(t *testing.T) {
	got := ComputeStatistics([]any{})
	if got != (Basic{}) {
		t.Errorf("Expected zero statistics, got %+v", got)
	}

	got = ComputeStatistics([]any{"abc", nil, map[string]any{"other": 1}})
	if got != (Basic{}) {
		t.Errorf("Expected zero statistics for unparseable input, got %+v", got)
	}
}

func TestComputeStatisticsIdentical(t *testing.T) {
	samples := []float64{4.2, 4.2, 4.2, 4.2}
	got := ComputeStatistics(samples)

	if got.Stdev != 0 {
		t.Errorf("Expected stdev 0, got %f", got.Stdev)
	}
	if !approx(got.Avg, 4.2) {
		t.Errorf("Expected avg 4.2, got %f", got.Avg)
	}
}

func TestComputeStatisticsMixedInput(t *testing.T) {
	samples := []any{
		2.0,
		"4",
		map[string]any{"value": 4},
		map[string]any{"Value": "4"},
		map[string]any{"val": 5.0},
		map[string]any{"value": nil},
		"not a number",
		7,
	}

	got := ComputeStatistics(samples)

	// Parsed set: 2 4 4 4 5 7
	if !approx(got.Avg, 26.0/6.0) {
		t.Errorf("Expected avg %f, got %f", 26.0/6.0, got.Avg)
	}
	if got.Max != 7 || got.Min != 2 {
		t.Errorf("Expected max 7 min 2, got max %f min %f", got.Max, got.Min)
	}
}

func TestComputeStatisticsPopulationStdev(t *testing.T) {
	// Population stdev of 2 4 4 4 5 5 7 9 is exactly 2
	got := ComputeStatistics([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if !approx(got.Stdev, 2) {
		t.Errorf("Expected stdev 2, got %f", got.Stdev)
	}
	if !approx(got.Avg, 5) {
		t.Errorf("Expected avg 5, got %f", got.Avg)
	}
}

func TestComputeStatisticsTypedSamples(t *testing.T) {
	now := time.Now()
	samples := []types.Sample{
		{Timestamp: now, Value: types.Float(1)},
		{Timestamp: now.Add(time.Minute), Value: nil},
		{Timestamp: now.Add(2 * time.Minute), Value: types.Float(3)},
	}

	got := ComputeStatistics(samples)
	if !approx(got.Avg, 2) {
		t.Errorf("Expected gaps to be skipped, avg=%f", got.Avg)
	}
}

func TestComputeCapability(t *testing.T) {
	// avg 15, population stdev 1
	samples := []float64{14, 16}
	b := ComputeStatistics(samples)
	if !approx(b.Stdev, 1) {
		t.Fatalf("Expected stdev 1, got %f", b.Stdev)
	}

	c := ComputeCapability(samples, types.Float(10), types.Float(20), b.Stdev)
	want := 5.0 / 3.0

	if c.Cpl == nil || !approx(*c.Cpl, want) {
		t.Errorf("Expected cpl %f, got %v", want, c.Cpl)
	}
	if c.Cpu == nil || !approx(*c.Cpu, want) {
		t.Errorf("Expected cpu %f, got %v", want, c.Cpu)
	}
	if c.Cpk == nil || !approx(*c.Cpk, want) {
		t.Errorf("Expected cpk %f, got %v", want, c.Cpk)
	}
}

func TestComputeCapabilityOneSided(t *testing.T) {
	samples := []float64{14, 16}

	c := ComputeCapability(samples, nil, types.Float(18), 1)
	if c.Cpl != nil {
		t.Errorf("Expected nil cpl, got %f", *c.Cpl)
	}
	if c.Cpu == nil || !approx(*c.Cpu, 1) {
		t.Fatalf("Expected cpu 1, got %v", c.Cpu)
	}
	if c.Cpk == nil || *c.Cpk != *c.Cpu {
		t.Errorf("Expected cpk to equal cpu")
	}

	c = ComputeCapability(samples, types.Float(12), types.Float(18), 1)
	if c.Cpk == nil || !approx(*c.Cpk, 1) {
		t.Errorf("Expected cpk = min(cpl, cpu) = 1, got %v", c.Cpk)
	}
}

func TestComputeCapabilityDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		samples []any
		stdev   float64
	}{
		{"zero stdev", []any{5, 5, 5}, 0},
		{"empty", []any{}, 1},
		{"unparseable", []any{"x", nil}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeCapability(tt.samples, types.Float(0), types.Float(10), tt.stdev)
			if c.Cpk != nil || c.Cpl != nil || c.Cpu != nil {
				t.Errorf("Expected all nil indices, got %+v", c)
			}
		})
	}

	c := ComputeCapability([]float64{1, 2}, nil, nil, 0.5)
	if c.Cpk != nil {
		t.Errorf("Expected nil cpk without limits")
	}
}

func TestCountOutOfBounds(t *testing.T) {
	samples := []float64{5, 15, 25}

	if got := CountOutOfBounds(samples, types.Float(10), types.Float(20)); got != 2 {
		t.Errorf("Expected 2 out of bounds, got %d", got)
	}
	if got := CountOutOfBounds(samples, nil, nil); got != 0 {
		t.Errorf("Expected 0 without limits, got %d", got)
	}
	if got := CountOutOfBounds([]float64{10, 20}, types.Float(10), types.Float(20)); got != 0 {
		t.Errorf("Expected values on the limits to be in bounds, got %d", got)
	}
	if got := CountOutOfBounds(samples, nil, types.Float(20)); got != 1 {
		t.Errorf("Expected 1 above upper limit, got %d", got)
	}
	if got := CountOutOfBounds([]any{-1, 1}, types.Float(0), nil); got != 1 {
		t.Errorf("Expected a zero lower limit to be honoured, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	samples := []float64{14, 16, 21}
	limits := types.Limits{
		LSL: types.Float(10),
		USL: types.Float(20),
		UGL: types.Float(15),
	}

	s := Summarize(samples, limits)
	if s.OutOfBoundsCount != 1 {
		t.Errorf("Expected guarantee limits to be ignored, got %d out of bounds", s.OutOfBoundsCount)
	}
	if s.Cpk == nil || s.Cpl == nil || s.Cpu == nil {
		t.Fatalf("Expected all indices, got %+v", s)
	}
	if *s.Cpk != math.Min(*s.Cpl, *s.Cpu) {
		t.Errorf("Expected cpk = min(cpl, cpu)")
	}
}

func TestRate(t *testing.T) {
	tests := []struct {
		index *float64
		want  Rating
	}{
		{nil, RatingNone},
		{types.Float(0.5), RatingPoor},
		{types.Float(1), RatingCapable},
		{types.Float(1.329), RatingCapable},
		{types.Float(1.33), RatingExcellent},
		{types.Float(math.NaN()), RatingNone},
	}

	for _, tt := range tests {
		if got := Rate(tt.index); got != tt.want {
			t.Errorf("Rate(%v) = %s, want %s", tt.index, got, tt.want)
		}
	}
}

func TestAxisRange(t *testing.T) {
	lo, hi := AxisRange([]float64{})
	if lo != 0 || hi != 10 {
		t.Errorf("Expected [0,10] for no data, got [%f,%f]", lo, hi)
	}

	lo, hi = AxisRange([]float64{10, 20}, types.Float(0), nil)
	// span 20 -> padding 2
	if !approx(lo, -2) || !approx(hi, 22) {
		t.Errorf("Expected [-2,22], got [%f,%f]", lo, hi)
	}

	lo, hi = AxisRange([]float64{50, 50})
	// zero span -> padding 5
	if !approx(lo, 45) || !approx(hi, 55) {
		t.Errorf("Expected [45,55], got [%f,%f]", lo, hi)
	}

	lo, hi = AxisRange([]float64{0, 0})
	if !approx(lo, -1) || !approx(hi, 1) {
		t.Errorf("Expected [-1,1], got [%f,%f]", lo, hi)
	}

	lo, hi = AxisRange([]float64{100, 101})
	// span 1 -> 0.1, raised to 100*0.05 = 5
	if !approx(lo, 95) || !approx(hi, 106) {
		t.Errorf("Expected [95,106], got [%f,%f]", lo, hi)
	}
}
