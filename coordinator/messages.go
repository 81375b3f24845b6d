package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
)

// prepare stores a message and moves it to PREPARED_FOR_SENDING
func (c *Coordinator) prepare(ctx context.Context, m *dialog.Message) (*dialog.Message, error) {
	m.Status = dialog.StatusInCreation
	if err := c.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create dialog message: %w", err)
	}
	prepared, err := c.messages.Transition(ctx, m.ID, dialog.StatusInCreation, dialog.StatusPreparedForSending, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dialog message %s: %w", m.ID, err)
	}
	return prepared, nil
}

// createMessages materializes the messages a rule pass marked as due. When
// reply is set the messages answer that dialog message: they are sent at
// once, never expect an answer and may pick the message at the position of
// the one replied to.
func (c *Coordinator) createMessages(
	ctx context.Context,
	p *interventions.Participant,
	due []rules.MessageDue,
	sendAt func(rules.MessageDue) time.Time,
	reply *dialog.Message,
	now time.Time,
) error {
	if len(due) == 0 {
		return nil
	}

	vars, err := c.access(p, now).Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read variables of participant %s: %w", p.ID, err)
	}

	var errs []error
	for _, d := range due {
		group, err := c.store.GetMessageGroup(ctx, d.MessageGroupID)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", d.Rule.ID, err))
			continue
		}

		message, err := c.chooseMessage(ctx, group, p, vars, reply)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", d.Rule.ID, err))
			continue
		}
		if message == nil {
			c.logger.Debug("no_message_eligible", "participant_id", p.ID, "rule_id", d.Rule.ID, "message_group_id", group.ID)
			continue
		}

		created, err := c.prepare(ctx, &dialog.Message{
			ParticipantID:              p.ID,
			Message:                    rules.SubstituteText(message.TextWithPlaceholders, vars),
			ShouldBeSentAt:             sendAt(d),
			ExpectsAnswer:              group.ExpectsAnswer && reply == nil,
			SupervisorMessage:          d.ToSupervisor,
			RelatedMonitoringRuleID:    d.Rule.ID,
			RelatedMessageGroupID:      group.ID,
			RelatedMonitoringMessageID: message.ID,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.logger.Debug("message_prepared", "participant_id", p.ID, "message_id", created.ID, "rule_id", d.Rule.ID)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) chooseMessage(
	ctx context.Context,
	group *interventions.MessageGroup,
	p *interventions.Participant,
	vars rules.Variables,
	reply *dialog.Message,
) (*interventions.MonitoringMessage, error) {
	if reply != nil && group.SendSamePositionIfSendingAsReply && reply.RelatedMessageGroupID != "" {
		original, err := c.store.GetMessageGroup(ctx, reply.RelatedMessageGroupID)
		if err != nil && !errors.Is(err, interventions.ErrNotFound) {
			return nil, err
		}
		if m, ok := interventions.SamePosition(group, original, reply.RelatedMonitoringMessageID); ok {
			return m, nil
		}
	}
	return c.selector.Select(ctx, group, p.ID, vars)
}

// SendManualMessage queues a message written by an operator. Placeholders
// are filled from the participant's variables and the message is due at once.
func (c *Coordinator) SendManualMessage(ctx context.Context, participantID, text string, supervisor bool) (*dialog.Message, error) {
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	vars, err := c.access(p, now).Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables of participant %s: %w", p.ID, err)
	}

	m, err := c.prepare(ctx, &dialog.Message{
		ParticipantID:     p.ID,
		Message:           rules.SubstituteText(text, vars),
		ShouldBeSentAt:    now,
		SupervisorMessage: supervisor,
		ManuallySent:      true,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("manual_message_prepared", "participant_id", p.ID, "message_id", m.ID)
	return m, nil
}

// EvaluateRuleForParticipant evaluates one rule against a participant's
// current variables without applying any side effect
func (c *Coordinator) EvaluateRuleForParticipant(ctx context.Context, participantID, ruleID string) (*rules.EvaluationResult, error) {
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	set, err := c.interventions.RuleSet(ctx, p.InterventionID)
	if err != nil {
		return nil, err
	}
	rule, ok := set.Rule(ruleID)
	if !ok {
		return nil, fmt.Errorf("rule %s %w", ruleID, rules.ErrRuleNotFound)
	}

	vars, err := c.access(p, c.now()).Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables of participant %s: %w", p.ID, err)
	}
	return c.engine.Evaluate(&rule.Rule, vars), nil
}
