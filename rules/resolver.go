package rules

import (
	"context"
	"fmt"
)

// VariableAccess gives the resolver a participant's variables. Snapshot is
// taken again before every rule so values stored by earlier rules are seen
// by later ones.
type VariableAccess interface {
	Snapshot(ctx context.Context) (Variables, error)
	Store(ctx context.Context, name, value string, supervisor bool) error
}

// MessageDue marks a message of a group to be created for the participant
// or their supervisor.
type MessageDue struct {
	Rule           *MonitoringRule
	MessageGroupID string
	ToSupervisor   bool
}

// MicroDialogActivation asks the coordinator to start a micro dialog
type MicroDialogActivation struct {
	RuleID        string
	MicroDialogID string
	ToSupervisor  bool
}

// Resolution collects everything a tree pass produced
type Resolution struct {
	Results                []*EvaluationResult
	MessagesDue            []MessageDue
	MicroDialogActivations []MicroDialogActivation
	StopIntervention       bool
}

// Failed returns the results that did not evaluate successfully
func (r *Resolution) Failed() []*EvaluationResult {
	var out []*EvaluationResult
	for _, res := range r.Results {
		if !res.EvaluatedSuccessful {
			out = append(out, res)
		}
	}
	return out
}

// Resolve walks the tree in ascending order, evaluating each rule and then
// its children whether or not the parent matched. Side effects are applied
// only for rules that evaluated successfully; a failing rule never stops
// the walk. A matched rule with StopInterventionWhenTrue ends the pass
// unless it also sends a message.
//
// The returned error reports variable access failures or cancellation;
// evaluation failures are part of the Resolution.
func (en *Engine) Resolve(ctx context.Context, tree *Tree, vars VariableAccess) (*Resolution, error) {
	res := &Resolution{}
	if err := en.resolveLevel(ctx, tree, "", vars, res); err != nil {
		return res, err
	}
	return res, nil
}

func (en *Engine) resolveLevel(ctx context.Context, tree *Tree, parentID string, vars VariableAccess, res *Resolution) error {
	for _, rule := range tree.Children(parentID) {
		if res.StopIntervention {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := en.resolveRule(ctx, rule, vars, res); err != nil {
			return err
		}
		if res.StopIntervention {
			return nil
		}

		if err := en.resolveLevel(ctx, tree, rule.ID, vars, res); err != nil {
			return err
		}
	}
	return nil
}

func (en *Engine) resolveRule(ctx context.Context, rule *MonitoringRule, vars VariableAccess, res *Resolution) error {
	snapshot, err := vars.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read variables for rule %s: %w", rule.ID, err)
	}

	result := en.Evaluate(&rule.Rule, snapshot)
	res.Results = append(res.Results, result)
	if !result.EvaluatedSuccessful {
		return nil
	}

	if rule.StoreValueToVariableWithName != "" {
		if err := vars.Store(ctx, rule.StoreValueToVariableWithName, result.Value(), rule.SendMessageToSupervisor); err != nil {
			return fmt.Errorf("failed to store result of rule %s: %w", rule.ID, err)
		}
	}

	if !result.RuleMatchesEquationSign {
		return nil
	}

	if rule.SendMessageIfTrue {
		res.MessagesDue = append(res.MessagesDue, MessageDue{
			Rule:           rule,
			MessageGroupID: rule.RelatedMessageGroupID,
			ToSupervisor:   rule.SendMessageToSupervisor,
		})
	}
	if rule.ActivateMicroDialogIfTrue {
		res.MicroDialogActivations = append(res.MicroDialogActivations, MicroDialogActivation{
			RuleID:        rule.ID,
			MicroDialogID: rule.RelatedMicroDialogID,
			ToSupervisor:  rule.SendMessageToSupervisor,
		})
	}
	// a rule sending a message never stops the intervention
	if rule.StopInterventionWhenTrue && !rule.SendMessageIfTrue {
		res.StopIntervention = true
	}
	return nil
}
