package sizing

import (
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/reservoir/pkg/config"
)

func TestEstimateScalars(t *testing.T) {
	var nilPtr *int
	assert.Equal(t, uint64(NullSize), Estimate(nil))
	assert.Equal(t, uint64(NullSize), Estimate(nilPtr))
	assert.Equal(t, uint64(BoolSize), Estimate(true))
	assert.Equal(t, uint64(NumberSize), Estimate(42))
	assert.Equal(t, uint64(NumberSize), Estimate(3.14))
	assert.Equal(t, uint64(NumberSize), Estimate(uint16(7)))
	assert.Equal(t, uint64(13), Estimate("hello"))
	assert.Equal(t, uint64(11), Estimate([]byte("abc")))
	assert.Equal(t, uint64(10), Estimate(gojson.RawMessage(`{}`)))
}

func TestEstimateSequenceBands(t *testing.T) {
	tests := []struct {
		n    int
		want uint64
	}{
		{0, EmptySequenceSize},
		{1, SmallSequenceSize},
		{9, SmallSequenceSize},
		{10, MediumSequenceSize},
		{99, MediumSequenceSize},
		{100, LargeSequenceSize},
		{999, LargeSequenceSize},
		{1000, XLargeSequenceSize},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(make([]any, tt.n)), "n=%d", tt.n)
		assert.Equal(t, tt.want, Estimate(make([]int, tt.n)), "typed n=%d", tt.n)
	}
}

func TestEstimateMapsAndStructs(t *testing.T) {
	assert.Equal(t, uint64(16+32*3), Estimate(map[string]any{"a": 1, "b": 2, "c": 3}))
	assert.Equal(t, uint64(16+32*2), Estimate(map[int]string{1: "x", 2: "y"}))

	type point struct{ X, Y int }
	assert.Equal(t, uint64(16+32*2), Estimate(point{}))
	assert.Equal(t, uint64(16+32*2), Estimate(&point{}))
	assert.Equal(t, uint64(OtherSize), Estimate(make(chan int)))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassTiny, Classify(1))
	assert.Equal(t, ClassSmall, Classify(make([]int, 5)))
	assert.Equal(t, ClassMedium, Classify(make([]int, 50)))
	assert.Equal(t, ClassLarge, Classify(make([]int, 500)))
	assert.Equal(t, ClassXLarge, Classify(make([]int, 5000)))
	assert.Equal(t, "medium", ClassMedium.String())
}

func TestShouldPoolArrayBoundary(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.ShouldPool(make([]int, 9)))
	assert.True(t, p.ShouldPool(make([]int, 10)))
	assert.False(t, p.ShouldPool(make([]any, 9)))
	assert.True(t, p.ShouldPool(make([]any, 10)))
	assert.False(t, p.ShouldPool([]any{}))
}

func TestShouldPoolObjectBoundary(t *testing.T) {
	p := DefaultPolicy()
	four := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4}
	five := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	assert.False(t, p.ShouldPool(four))
	assert.True(t, p.ShouldPool(five))

	type four4 struct{ A, B, C, D int }
	type five5 struct{ A, B, C, D, E int }
	assert.False(t, p.ShouldPool(four4{}))
	assert.True(t, p.ShouldPool(five5{}))
	assert.Equal(t, RuleObjectFields, p.Evaluate(&five5{}).Rule)
}

func TestShouldPoolStringBoundary(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.ShouldPool(strings.Repeat("x", 1024)))
	assert.True(t, p.ShouldPool(strings.Repeat("x", 1025)))
	assert.False(t, p.ShouldPool(make([]byte, 1024)))
	assert.True(t, p.ShouldPool(make([]byte, 1025)))

	type label string
	assert.True(t, p.ShouldPool(label(strings.Repeat("x", 1025))))
}

func TestScalarsNeverPoolByBytes(t *testing.T) {
	p, err := NewPolicy(config.ThresholdConfig{
		ArrayElements: 10, ObjectFields: 5, StringBytes: 1024, CompositeBytes: 1, ScanBudget: 50,
	})
	require.NoError(t, err)
	assert.False(t, p.ShouldPool(nil))
	assert.False(t, p.ShouldPool(true))
	assert.False(t, p.ShouldPool(123456))
	assert.False(t, p.ShouldPool("short"))
}

func TestCompositeByteThreshold(t *testing.T) {
	p := DefaultPolicy()

	// 3 × (80+8) = 264 bytes
	over := []any{strings.Repeat("a", 80), strings.Repeat("b", 80), strings.Repeat("c", 80)}
	v := p.Evaluate(over)
	assert.Equal(t, Pool, v.Decision)
	assert.Equal(t, RuleCompositeBytes, v.Rule)

	// 3 × (76+8) = 252 bytes
	under := []any{strings.Repeat("a", 76), strings.Repeat("b", 76), strings.Repeat("c", 76)}
	assert.Equal(t, Direct, p.Decide(under))

	// base 16+32 plus key and value: 48 + 1 + 208 = 257
	assert.True(t, p.ShouldPool(map[string]any{"k": strings.Repeat("v", 200)}))
	// 48 + 1 + 198 = 247
	assert.False(t, p.ShouldPool(map[string]any{"k": strings.Repeat("v", 190)}))
}

func TestNestedElementsEscalateByBand(t *testing.T) {
	p := DefaultPolicy()
	small := make([]int, 5)
	// two nested small sequences: 128 + 128
	assert.True(t, p.ShouldPool([]any{small, small}))
	assert.False(t, p.ShouldPool([]any{small}))
}

func TestScanBudgetShortCircuits(t *testing.T) {
	p, err := NewPolicy(config.ThresholdConfig{
		ArrayElements: 1000, ObjectFields: 1000, StringBytes: 1024, CompositeBytes: 1 << 20, ScanBudget: 50,
	})
	require.NoError(t, err)

	v := p.Evaluate(make([]int, 51))
	assert.Equal(t, Pool, v.Decision)
	assert.Equal(t, RuleScanBudget, v.Rule)
	assert.False(t, p.ShouldPool(make([]int, 50)))

	big := make(map[string]int, 51)
	for i := 0; i < 51; i++ {
		big[strings.Repeat("k", i+1)] = i
	}
	assert.Equal(t, RuleScanBudget, p.Evaluate(big).Rule)
}

func TestNewPolicyRejectsInvalidThresholds(t *testing.T) {
	_, err := NewPolicy(config.ThresholdConfig{ArrayElements: 0, ObjectFields: 5, StringBytes: 1, CompositeBytes: 1, ScanBudget: 1})
	require.Error(t, err)
}

func TestDecisionText(t *testing.T) {
	out, err := gojson.Marshal(DefaultPolicy().Evaluate(make([]int, 10)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"pool","rule":"array_elements","estimate":1024,"class":"medium"}`, string(out))
}

func BenchmarkShouldPool(b *testing.B) {
	p := DefaultPolicy()
	payload := map[string]any{"id": 1, "name": "bench", "tags": []any{"a", "b"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.ShouldPool(payload)
	}
}
