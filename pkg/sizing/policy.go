package sizing

import (
	"reflect"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/reservoir/pkg/config"
)

// Thresholds are the per-kind pooling limits.
type Thresholds struct {
	// ArrayElements pools sequences with at least this many elements
	ArrayElements int `json:"array_elements"`
	// ObjectFields pools maps and structs with at least this many fields
	ObjectFields int `json:"object_fields"`
	// StringBytes pools strings and byte slices longer than this
	StringBytes int `json:"string_bytes"`
	// CompositeBytes pools composites whose scanned estimate reaches this
	CompositeBytes int `json:"composite_bytes"`
	// ScanBudget is the most elements inspected before pooling unconditionally
	ScanBudget int `json:"scan_budget"`
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.Default().Threshold)
}

// ThresholdsFromConfig converts the configuration section.
func ThresholdsFromConfig(c config.ThresholdConfig) Thresholds {
	return Thresholds(c)
}

// Decision is the outcome of a pooling check.
type Decision int

const (
	// Direct means allocate without the pool
	Direct Decision = iota
	// Pool means serve from the pool
	Pool
)

func (d Decision) String() string {
	if d == Pool {
		return "pool"
	}
	return "direct"
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Rule names the condition that produced a decision.
type Rule string

const (
	RuleNone           Rule = "none"
	RuleArrayElements  Rule = "array_elements"
	RuleObjectFields   Rule = "object_fields"
	RuleStringBytes    Rule = "string_bytes"
	RuleScanBudget     Rule = "scan_budget"
	RuleCompositeBytes Rule = "composite_bytes"
)

// Verdict explains a decision.
type Verdict struct {
	Decision Decision  `json:"decision"`
	Rule     Rule      `json:"rule"`
	Estimate uint64    `json:"estimate"`
	Class    SizeClass `json:"class"`
}

// Policy decides whether a payload should use a pooled buffer. It holds no
// mutable state and is safe for concurrent use.
type Policy struct {
	t Thresholds
}

// NewPolicy validates the thresholds and returns a Policy.
func NewPolicy(cfg config.ThresholdConfig) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{t: ThresholdsFromConfig(cfg)}, nil
}

// DefaultPolicy returns a Policy with DefaultThresholds.
func DefaultPolicy() *Policy {
	return &Policy{t: DefaultThresholds()}
}

// Thresholds returns the policy thresholds.
func (p *Policy) Thresholds() Thresholds {
	return p.t
}

// ShouldPool reports whether v should be served from the pool.
func (p *Policy) ShouldPool(v any) bool {
	return p.Evaluate(v).Decision == Pool
}

// Decide returns Pool or Direct for v.
func (p *Policy) Decide(v any) Decision {
	return p.Evaluate(v).Decision
}

// Evaluate applies every rule to v and reports the first that fires.
func (p *Policy) Evaluate(v any) Verdict {
	est := Estimate(v)
	verdict := Verdict{Decision: Direct, Rule: RuleNone, Estimate: est, Class: ClassOf(est)}

	if rule := p.rule(v, est); rule != RuleNone {
		verdict.Decision = Pool
		verdict.Rule = rule
	}
	return verdict
}

func (p *Policy) rule(v any, est uint64) Rule {
	switch x := v.(type) {
	case nil, bool:
		return RuleNone
	case string:
		return p.stringRule(len(x))
	case []byte:
		return p.stringRule(len(x))
	case gojson.RawMessage:
		return p.stringRule(len(x))
	case []any:
		return p.sequenceRule(len(x), func(i int) uint64 { return Estimate(x[i]) })
	case map[string]any:
		return p.stringMapRule(x, est)
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return RuleNone
	}

	switch rv.Kind() {
	case reflect.String:
		return p.stringRule(rv.Len())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return p.stringRule(rv.Len())
		}
		return p.sequenceRule(rv.Len(), func(i int) uint64 { return estimateValue(rv.Index(i)) })
	case reflect.Map:
		return p.mapRule(rv, est)
	case reflect.Struct:
		return p.structRule(rv, est)
	default:
		return RuleNone
	}
}

func (p *Policy) stringRule(n int) Rule {
	if n > p.t.StringBytes {
		return RuleStringBytes
	}
	return RuleNone
}

// sequenceRule scans at most ScanBudget elements, summing their estimates.
func (p *Policy) sequenceRule(n int, elem func(int) uint64) Rule {
	if n >= p.t.ArrayElements {
		return RuleArrayElements
	}
	if n > p.t.ScanBudget {
		return RuleScanBudget
	}
	if n == 0 {
		return RuleNone
	}

	var total uint64
	for i := 0; i < n; i++ {
		total += elem(i)
		if total >= uint64(p.t.CompositeBytes) {
			return RuleCompositeBytes
		}
	}
	return RuleNone
}

func (p *Policy) stringMapRule(m map[string]any, est uint64) Rule {
	n := len(m)
	if n >= p.t.ObjectFields {
		return RuleObjectFields
	}
	if n > p.t.ScanBudget {
		return RuleScanBudget
	}

	total := est
	for k, v := range m {
		total += uint64(len(k)) + Estimate(v)
		if total >= uint64(p.t.CompositeBytes) {
			return RuleCompositeBytes
		}
	}
	return RuleNone
}

func (p *Policy) mapRule(rv reflect.Value, est uint64) Rule {
	n := rv.Len()
	if n >= p.t.ObjectFields {
		return RuleObjectFields
	}
	if n > p.t.ScanBudget {
		return RuleScanBudget
	}

	total := est
	iter := rv.MapRange()
	for iter.Next() {
		total += keySize(iter.Key()) + estimateValue(iter.Value())
		if total >= uint64(p.t.CompositeBytes) {
			return RuleCompositeBytes
		}
	}
	return RuleNone
}

func (p *Policy) structRule(rv reflect.Value, est uint64) Rule {
	n := rv.NumField()
	if n >= p.t.ObjectFields {
		return RuleObjectFields
	}
	if n > p.t.ScanBudget {
		return RuleScanBudget
	}

	total := est
	typ := rv.Type()
	for i := 0; i < n; i++ {
		total += uint64(len(typ.Field(i).Name)) + estimateValue(rv.Field(i))
		if total >= uint64(p.t.CompositeBytes) {
			return RuleCompositeBytes
		}
	}
	return RuleNone
}

func keySize(k reflect.Value) uint64 {
	if k.Kind() == reflect.String {
		return uint64(k.Len())
	}
	return estimateValue(k)
}
