package rules

import (
	"fmt"
	"strings"

	"github.com/liamcoop/interventions/variables"
)

const (
	maxRuleTextLength  = 2000
	maxHoursUnanswered = 96
)

// ValidateRule checks the parts every rule shares
func ValidateRule(rule *Rule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	if !rule.EquationSign.Valid() {
		return fmt.Errorf("rule %s has unknown equation sign %q", rule.ID, rule.EquationSign)
	}
	if rule.Order < 0 {
		return fmt.Errorf("rule %s has negative order %d", rule.ID, rule.Order)
	}
	if len(rule.RuleWithPlaceholders) > maxRuleTextLength {
		return fmt.Errorf("rule %s expression length %d exceeds maximum of %d characters", rule.ID, len(rule.RuleWithPlaceholders), maxRuleTextLength)
	}
	if len(rule.ComparisonTermWithPlaceholders) > maxRuleTextLength {
		return fmt.Errorf("rule %s comparison term length %d exceeds maximum of %d characters", rule.ID, len(rule.ComparisonTermWithPlaceholders), maxRuleTextLength)
	}
	return nil
}

// ValidateMonitoringRule checks a monitoring or reply rule on its own.
// Tree shape is checked by BuildTree.
func ValidateMonitoringRule(rule *MonitoringRule) error {
	if err := ValidateRule(&rule.Rule); err != nil {
		return err
	}
	if rule.InterventionID == "" {
		return fmt.Errorf("rule %s has no intervention", rule.ID)
	}
	if rule.ParentID == rule.ID {
		return fmt.Errorf("rule %s cannot be its own parent", rule.ID)
	}

	if rule.StoreValueToVariableWithName != "" {
		if err := variables.ValidateWritable(rule.StoreValueToVariableWithName); err != nil {
			return fmt.Errorf("rule %s cannot store to %q: %w", rule.ID, rule.StoreValueToVariableWithName, err)
		}
	}

	if rule.SendMessageIfTrue && rule.RelatedMessageGroupID == "" {
		return fmt.Errorf("rule %s sends a message but has no message group", rule.ID)
	}
	if rule.ActivateMicroDialogIfTrue && rule.RelatedMicroDialogID == "" {
		return fmt.Errorf("rule %s activates a micro dialog but names none", rule.ID)
	}

	if rule.HourToSendMessage < 0 || rule.HourToSendMessage > 23 {
		return fmt.Errorf("rule %s has hour to send message %d, must be between 0 and 23", rule.ID, rule.HourToSendMessage)
	}
	if h := rule.HoursUntilMessageIsHandledAsUnanswered; h != 0 && (h < 1 || h > maxHoursUnanswered) {
		return fmt.Errorf("rule %s has %d hours until unanswered, must be between 1 and %d", rule.ID, h, maxHoursUnanswered)
	}

	switch rule.ReplyCase {
	case ReplyCaseNone:
		if rule.ReplyToRuleID != "" {
			return fmt.Errorf("rule %s replies to %s but has no reply case", rule.ID, rule.ReplyToRuleID)
		}
	case ReplyCaseAnswered, ReplyCaseUnanswered:
		if rule.ReplyToRuleID == "" {
			return fmt.Errorf("rule %s has reply case %s but replies to no rule", rule.ID, rule.ReplyCase)
		}
		if rule.ReplyToRuleID == rule.ID {
			return fmt.Errorf("rule %s cannot reply to itself", rule.ID)
		}
	default:
		return fmt.Errorf("rule %s has unknown reply case %q", rule.ID, rule.ReplyCase)
	}

	return nil
}
