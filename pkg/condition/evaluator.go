package condition

import (
	"log/slog"
	"regexp"
	"sync"
)

// Evaluator evaluates conditions against events. It is safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger

	// compiled patterns keyed by source; failed compilations are cached too
	patterns sync.Map
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// NewEvaluator creates an Evaluator. A nil logger uses slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger: logger.With(slog.String("component", "condition-evaluator")),
	}
}

// Evaluate reports whether the raw event matches the condition.
//
// A nil or empty condition always matches. An event that cannot be parsed
// also matches: delivery is preferred over filtering precision.
func (e *Evaluator) Evaluate(event []byte, cond *Condition) bool {
	if cond.IsEmpty() {
		return true
	}

	doc, err := Parse(event)
	if err != nil {
		e.logger.Error("Failed to parse event JSON for condition evaluation, failing open",
			slog.String("error", err.Error()))
		return true
	}
	return e.EvaluateDocument(doc, cond)
}

// EvaluateDocument evaluates a condition against an already parsed document.
func (e *Evaluator) EvaluateDocument(doc any, cond *Condition) bool {
	if cond.IsEmpty() {
		return true
	}

	if cond.Mode() == MatchAny {
		for _, rule := range cond.Rules {
			if e.EvaluateRule(doc, rule) {
				e.logger.Debug("Condition matched (any)", slog.String("rule", rule.String()))
				return true
			}
		}
		e.logger.Debug("No rules matched for 'any' condition")
		return false
	}

	for _, rule := range cond.Rules {
		if !e.EvaluateRule(doc, rule) {
			e.logger.Debug("Condition not matched (all)", slog.String("rule", rule.String()))
			return false
		}
	}
	e.logger.Debug("All rules matched for 'all' condition")
	return true
}

// EvaluateRule evaluates a single rule. A missing or null field fails every
// operator except not_exists.
func (e *Evaluator) EvaluateRule(doc any, rule Rule) bool {
	if rule.Field == "" || rule.Operator == "" {
		e.logger.Warn("Invalid rule: field or operator is empty", slog.String("rule", rule.String()))
		return false
	}

	op, known := CanonicalOperator(rule.Operator)
	value, found := Resolve(doc, rule.Field)
	present := found && value != nil

	switch op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}

	if !known {
		e.logger.Warn("Unknown operator, treating rule as false",
			slog.String("operator", rule.Operator),
			slog.String("field", rule.Field))
		return false
	}
	if !present {
		return false
	}

	return e.applyString(op, Text(value), rule.Value)
}

// matchRegex reports whether the pattern matches the whole value.
// An invalid pattern is a non-match.
func (e *Evaluator) matchRegex(value, pattern string) bool {
	cp := e.compile(pattern)
	if cp.err != nil {
		e.logger.Warn("Invalid regex pattern",
			slog.String("pattern", pattern),
			slog.String("error", cp.err.Error()))
		return false
	}
	return cp.re.MatchString(value)
}

func (e *Evaluator) compile(pattern string) *compiledPattern {
	if cached, ok := e.patterns.Load(pattern); ok {
		return cached.(*compiledPattern)
	}
	// Validate the bare pattern first so unbalanced groups cannot escape the anchors.
	cp := &compiledPattern{}
	if _, cp.err = regexp.Compile(pattern); cp.err == nil {
		cp.re, cp.err = regexp.Compile(`^(?:` + pattern + `)$`)
	}
	actual, _ := e.patterns.LoadOrStore(pattern, cp)
	return actual.(*compiledPattern)
}
