package intercept

import (
	"dnshack/internal/dns"
)

// Rule is a pluggable rewrite of upstream answers. Implementations must not retain or mutate the
// messages they are given, and must be safe for concurrent use.
type Rule interface {
	// Matches reports whether the rule wants to rewrite the answer.
	Matches(answer dns.Message) bool

	// Apply returns a rewritten copy of the answer.
	Apply(answer dns.Message) dns.Message
}

// Pipeline is an ordered, immutable set of rules.
type Pipeline struct {
	rules []Rule
}

// NewPipeline creates a pipeline that applies the given rules in order.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: append([]Rule{}, rules...)}
}

// Apply folds the answer through every rule whose predicate holds for the output of the rules
// before it. It returns the final message and the number of rules applied.
func (p *Pipeline) Apply(answer dns.Message) (dns.Message, int) {
	applied := 0

	for _, rule := range p.rules {
		if rule.Matches(answer) {
			answer = rule.Apply(answer)
			applied++
		}
	}

	return answer, applied
}

// Len returns the number of registered rules.
func (p *Pipeline) Len() int {
	return len(p.rules)
}
