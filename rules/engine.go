package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

const (
	// costLimit bounds the work of a single arithmetic program
	costLimit = 1000000

	defaultMaxPrograms = 10000
)

// Engine evaluates rules against a variable snapshot. Arithmetic is
// compiled to CEL programs which are cached by their lowered source.
// Engine is safe for concurrent use.
type Engine struct {
	env         *cel.Env
	programs    map[string]cel.Program
	maxPrograms int
	now         func() time.Time
	mu          sync.RWMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithClock sets the time source used by date-difference rules
func WithClock(now func() time.Time) EngineOption {
	return func(en *Engine) {
		en.now = now
	}
}

// WithMaxPrograms bounds the compiled program cache
func WithMaxPrograms(n int) EngineOption {
	return func(en *Engine) {
		en.maxPrograms = n
	}
}

// NewEngine creates an engine with the arithmetic function library
func NewEngine(opts ...EngineOption) (*Engine, error) {
	env, err := cel.NewEnv(arithmeticEnvOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	en := &Engine{
		env:         env,
		programs:    make(map[string]cel.Program),
		maxPrograms: defaultMaxPrograms,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en, nil
}

// Calculate evaluates an arithmetic expression that no longer contains
// placeholders
func (en *Engine) Calculate(expression string) (float64, error) {
	src, err := compileArithmetic(expression)
	if err != nil {
		return 0, err
	}

	prog, err := en.program(src)
	if err != nil {
		return 0, err
	}

	out, _, err := prog.Eval(cel.NoVars())
	if err != nil {
		return 0, err
	}

	v, ok := out.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("expression did not produce a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression result is not a finite number")
	}
	return v, nil
}

func (en *Engine) program(src string) (cel.Program, error) {
	en.mu.RLock()
	prog, ok := en.programs[src]
	en.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := en.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := en.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	if len(en.programs) >= en.maxPrograms {
		en.programs = make(map[string]cel.Program)
	}
	en.programs[src] = prog
	en.mu.Unlock()

	return prog, nil
}

// Evaluate substitutes the rule's placeholders and evaluates it according
// to its equation sign. Failures are reported in the result, never returned.
func (en *Engine) Evaluate(rule *Rule, vars Variables) *EvaluationResult {
	res := &EvaluationResult{RuleID: rule.ID}

	switch sign := rule.EquationSign; {
	case !sign.Valid():
		res.fail("unknown equation sign %q", sign)
	case sign.IsCalculated():
		en.evaluateCalculated(rule, vars, res)
	case sign.IsDateDifference():
		en.evaluateDateDifference(rule, vars, res)
	default:
		en.evaluateText(rule, vars, res)
	}
	return res
}

// MatchesAll evaluates rules in order and reports whether every one of them
// succeeded and matched. Evaluation stops at the first rule that does not.
func (en *Engine) MatchesAll(rules []Rule, vars Variables) (bool, *EvaluationResult) {
	for i := range rules {
		res := en.Evaluate(&rules[i], vars)
		if !res.EvaluatedSuccessful || !res.RuleMatchesEquationSign {
			return false, res
		}
	}
	return true, nil
}

func (en *Engine) evaluateCalculated(rule *Rule, vars Variables, res *EvaluationResult) {
	res.IsCalculatedRule = true

	value, err := en.Calculate(SubstituteCalculated(rule.RuleWithPlaceholders, vars))
	if err != nil {
		res.fail("could not parse rule: %v", err)
		return
	}
	res.CalculatedRuleValue = value

	switch rule.EquationSign {
	case CalculateValueButResultIsAlwaysTrue:
		res.succeed(true)
		return
	case CalculateValueButResultIsAlwaysFalse:
		res.succeed(false)
		return
	}

	comparison, err := en.Calculate(SubstituteCalculated(rule.ComparisonTermWithPlaceholders, vars))
	if err != nil {
		res.fail("could not parse comparison term: %v", err)
		return
	}
	res.CalculatedRuleComparisonTermValue = comparison

	switch rule.EquationSign {
	case CalculatedValueIsSmallerThan:
		res.succeed(value < comparison)
	case CalculatedValueIsSmallerOrEqualThan:
		res.succeed(value <= comparison)
	case CalculatedValueEquals:
		res.succeed(value == comparison)
	case CalculatedValueIsBiggerOrEqualThan:
		res.succeed(value >= comparison)
	case CalculatedValueIsBiggerThan:
		res.succeed(value > comparison)
	}
}

func (en *Engine) evaluateText(rule *Rule, vars Variables, res *EvaluationResult) {
	text := SubstituteText(rule.RuleWithPlaceholders, vars)
	comparison := SubstituteText(rule.ComparisonTermWithPlaceholders, vars)
	res.TextRuleValue = text
	res.TextRuleComparisonTermValue = comparison

	switch rule.EquationSign {
	case CreateTextButResultIsAlwaysTrue:
		res.succeed(true)
	case CreateTextButResultIsAlwaysFalse:
		res.succeed(false)
	case TextValueEquals:
		res.succeed(normalizeText(text) == normalizeText(comparison))
	case TextValueNotEquals:
		res.succeed(normalizeText(text) != normalizeText(comparison))
	case TextValueMatchesRegularExpression, TextValueNotMatchesRegularExpression:
		re, err := regexp.Compile("^(?:" + strings.TrimSpace(comparison) + ")$")
		if err != nil {
			res.fail("could not parse comparison term: invalid regular expression: %v", err)
			return
		}
		matched := re.MatchString(normalizeText(text))
		res.succeed(matched == (rule.EquationSign == TextValueMatchesRegularExpression))
	}
}

func (en *Engine) evaluateDateDifference(rule *Rule, vars Variables, res *EvaluationResult) {
	text := SubstituteText(rule.RuleWithPlaceholders, vars)
	comparison := SubstituteText(rule.ComparisonTermWithPlaceholders, vars)
	res.TextRuleValue = text
	res.TextRuleComparisonTermValue = comparison

	now := en.now()
	date, err := parseDate(text, now)
	if err != nil {
		res.fail("could not parse rule: %v", err)
		return
	}

	switch rule.EquationSign {
	case DateDifferenceValueEquals:
		want, err := strconv.Atoi(strings.TrimSpace(comparison))
		if err != nil {
			res.fail("could not parse comparison term: %q is not a number of days", comparison)
			return
		}
		today := day(now.Year(), now.Month(), now.Day())
		res.succeed(daysBetween(date, today) == want)

	case CalculateDateDifferenceInDaysAndTrueIfZero, CalculateDateDifferenceInDaysAndAlwaysTrue:
		other, err := parseDate(comparison, now)
		if err != nil {
			res.fail("could not parse comparison term: %v", err)
			return
		}
		diff := daysBetween(date, other)
		res.TextRuleValue = strconv.Itoa(diff)
		res.succeed(diff == 0 || rule.EquationSign == CalculateDateDifferenceInDaysAndAlwaysTrue)
	}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *EvaluationResult) succeed(matched bool) {
	r.EvaluatedSuccessful = true
	r.RuleMatchesEquationSign = matched
	r.ErrorMessage = ""
}

func (r *EvaluationResult) fail(format string, args ...any) {
	r.EvaluatedSuccessful = false
	r.RuleMatchesEquationSign = false
	r.ErrorMessage = "could not evaluate rule: " + fmt.Sprintf(format, args...)
}
