package rules

import (
	"fmt"
	"time"
)

// EquationSign selects how a rule and its comparison term are evaluated
type EquationSign string

const (
	CalculateValueButResultIsAlwaysTrue  EquationSign = "CALCULATE_VALUE_BUT_RESULT_IS_ALWAYS_TRUE"
	CalculateValueButResultIsAlwaysFalse EquationSign = "CALCULATE_VALUE_BUT_RESULT_IS_ALWAYS_FALSE"
	CalculatedValueIsSmallerThan         EquationSign = "CALCULATED_VALUE_IS_SMALLER_THAN"
	CalculatedValueIsSmallerOrEqualThan  EquationSign = "CALCULATED_VALUE_IS_SMALLER_OR_EQUAL_THAN"
	CalculatedValueEquals                EquationSign = "CALCULATED_VALUE_EQUALS"
	CalculatedValueIsBiggerOrEqualThan   EquationSign = "CALCULATED_VALUE_IS_BIGGER_OR_EQUAL_THAN"
	CalculatedValueIsBiggerThan          EquationSign = "CALCULATED_VALUE_IS_BIGGER_THAN"

	CreateTextButResultIsAlwaysTrue            EquationSign = "CREATE_TEXT_BUT_RESULT_IS_ALWAYS_TRUE"
	CreateTextButResultIsAlwaysFalse           EquationSign = "CREATE_TEXT_BUT_RESULT_IS_ALWAYS_FALSE"
	TextValueEquals                            EquationSign = "TEXT_VALUE_EQUALS"
	TextValueNotEquals                         EquationSign = "TEXT_VALUE_NOT_EQUALS"
	TextValueMatchesRegularExpression          EquationSign = "TEXT_VALUE_MATCHES_REGULAR_EXPRESSION"
	TextValueNotMatchesRegularExpression       EquationSign = "TEXT_VALUE_NOT_MATCHES_REGULAR_EXPRESSION"
	DateDifferenceValueEquals                  EquationSign = "DATE_DIFFERENCE_VALUE_EQUALS"
	CalculateDateDifferenceInDaysAndTrueIfZero EquationSign = "CALCULATE_DATE_DIFFERENCE_IN_DAYS_AND_TRUE_IF_ZERO"
	CalculateDateDifferenceInDaysAndAlwaysTrue EquationSign = "CALCULATE_DATE_DIFFERENCE_IN_DAYS_AND_ALWAYS_TRUE"
)

var equationSigns = map[EquationSign]bool{
	CalculateValueButResultIsAlwaysTrue:        true,
	CalculateValueButResultIsAlwaysFalse:       true,
	CalculatedValueIsSmallerThan:               true,
	CalculatedValueIsSmallerOrEqualThan:        true,
	CalculatedValueEquals:                      true,
	CalculatedValueIsBiggerOrEqualThan:         true,
	CalculatedValueIsBiggerThan:                true,
	CreateTextButResultIsAlwaysTrue:            true,
	CreateTextButResultIsAlwaysFalse:           true,
	TextValueEquals:                            true,
	TextValueNotEquals:                         true,
	TextValueMatchesRegularExpression:          true,
	TextValueNotMatchesRegularExpression:       true,
	DateDifferenceValueEquals:                  true,
	CalculateDateDifferenceInDaysAndTrueIfZero: true,
	CalculateDateDifferenceInDaysAndAlwaysTrue: true,
}

// Valid reports whether the sign is part of the vocabulary
func (s EquationSign) Valid() bool {
	return equationSigns[s]
}

// IsCalculated reports whether the sign uses the arithmetic path
func (s EquationSign) IsCalculated() bool {
	switch s {
	case CalculateValueButResultIsAlwaysTrue, CalculateValueButResultIsAlwaysFalse,
		CalculatedValueIsSmallerThan, CalculatedValueIsSmallerOrEqualThan,
		CalculatedValueEquals, CalculatedValueIsBiggerOrEqualThan, CalculatedValueIsBiggerThan:
		return true
	}
	return false
}

// IsRegularExpression reports whether the comparison term is a pattern
func (s EquationSign) IsRegularExpression() bool {
	return s == TextValueMatchesRegularExpression || s == TextValueNotMatchesRegularExpression
}

// IsDateDifference reports whether both sides are parsed as dates
func (s EquationSign) IsDateDifference() bool {
	switch s {
	case DateDifferenceValueEquals, CalculateDateDifferenceInDaysAndTrueIfZero, CalculateDateDifferenceInDaysAndAlwaysTrue:
		return true
	}
	return false
}

// ParseEquationSign converts a stored sign name
func ParseEquationSign(s string) (EquationSign, error) {
	sign := EquationSign(s)
	if !sign.Valid() {
		return "", fmt.Errorf("unknown equation sign %q", s)
	}
	return sign, nil
}

// Rule is an authored condition: an expression, a comparison term and the
// sign relating them. Both texts may contain $variable placeholders.
type Rule struct {
	ID                             string       `json:"id"`
	Order                          int          `json:"order"`
	RuleWithPlaceholders           string       `json:"ruleWithPlaceholders"`
	EquationSign                   EquationSign `json:"equationSign"`
	ComparisonTermWithPlaceholders string       `json:"comparisonTermWithPlaceholders"`
	Comment                        string       `json:"comment,omitempty"`
}

// ReplyCase tells which reaction a reply rule belongs to
type ReplyCase string

const (
	ReplyCaseNone       ReplyCase = ""
	ReplyCaseAnswered   ReplyCase = "answered"
	ReplyCaseUnanswered ReplyCase = "unanswered"
)

// DefaultHoursUntilUnanswered is used when a rule does not set its own timeout
const DefaultHoursUntilUnanswered = 4

// MonitoringRule is a Rule placed in an intervention's rule tree together
// with the side effects applied when it evaluates successfully.
type MonitoringRule struct {
	Rule

	InterventionID string `json:"interventionId"`
	ParentID       string `json:"parentId,omitempty"`

	StoreValueToVariableWithName string `json:"storeValueToVariableWithName,omitempty"`
	SendMessageIfTrue            bool   `json:"sendMessageIfTrue"`
	SendMessageToSupervisor      bool   `json:"sendMessageToSupervisor"`
	RelatedMessageGroupID        string `json:"relatedMessageGroupId,omitempty"`
	ActivateMicroDialogIfTrue    bool   `json:"activateMicroDialogIfTrue"`
	RelatedMicroDialogID         string `json:"relatedMicroDialogId,omitempty"`

	HourToSendMessage                      int  `json:"hourToSendMessage"`
	HoursUntilMessageIsHandledAsUnanswered int  `json:"hoursUntilMessageIsHandledAsUnanswered"`
	StopInterventionWhenTrue               bool `json:"stopInterventionWhenTrue"`

	// Reply rules hang off a monitoring rule and run when its message is
	// answered or times out.
	ReplyToRuleID string    `json:"replyToRuleId,omitempty"`
	ReplyCase     ReplyCase `json:"replyCase,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsRoot reports whether the rule has no parent
func (r *MonitoringRule) IsRoot() bool {
	return r.ParentID == ""
}

// IsReplyRule reports whether the rule belongs to a reply tree
func (r *MonitoringRule) IsReplyRule() bool {
	return r.ReplyToRuleID != ""
}

// UnansweredAfter returns how long an answer is awaited for messages sent by this rule
func (r *MonitoringRule) UnansweredAfter() time.Duration {
	hours := r.HoursUntilMessageIsHandledAsUnanswered
	if hours <= 0 {
		hours = DefaultHoursUntilUnanswered
	}
	return time.Duration(hours) * time.Hour
}

// EvaluationResult is the outcome of evaluating one rule. Exactly one of
// the calculated or text value pairs is populated.
type EvaluationResult struct {
	RuleID                            string  `json:"ruleId"`
	EvaluatedSuccessful               bool    `json:"evaluatedSuccessful"`
	IsCalculatedRule                  bool    `json:"isCalculatedRule"`
	CalculatedRuleValue               float64 `json:"calculatedRuleValue"`
	CalculatedRuleComparisonTermValue float64 `json:"calculatedRuleComparisonTermValue"`
	TextRuleValue                     string  `json:"textRuleValue"`
	TextRuleComparisonTermValue       string  `json:"textRuleComparisonTermValue"`
	RuleMatchesEquationSign           bool    `json:"ruleMatchesEquationSign"`
	ErrorMessage                      string  `json:"errorMessage,omitempty"`
}

// Value returns the string stored to a variable for this result
func (r *EvaluationResult) Value() string {
	if r.IsCalculatedRule {
		return FormatNumber(r.CalculatedRuleValue)
	}
	return r.TextRuleValue
}

// Variables maps $names to their current values
type Variables map[string]string
