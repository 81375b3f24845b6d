package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
)

// Dispatch results
const (
	dispatchSent    = "sent"
	dispatchFailed  = "failed"
	dispatchSkipped = "skipped"
)

// DispatchOutgoing sends prepared messages whose send time has passed. At
// most MaxMessagesPerCycle sends are attempted and they are paced by the
// dispatch rate. A failed send returns the message to PREPARED_FOR_SENDING.
func (c *Coordinator) DispatchOutgoing(ctx context.Context) error {
	due, err := c.messages.ListDue(ctx, c.now(), 0)
	if err != nil {
		return fmt.Errorf("failed to list due messages: %w", err)
	}

	attempted := 0
	var errs []error
	for _, m := range due {
		if c.config.MaxMessagesPerCycle > 0 && attempted >= c.config.MaxMessagesPerCycle {
			c.logger.Debug("dispatch_cap_reached", "remaining", len(due)-attempted)
			break
		}

		var sent bool
		err := recovered(func() error {
			var err error
			sent, err = c.dispatch(ctx, m)
			return err
		})
		if sent {
			attempted++
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.Join(append(errs, ctxErr)...)
			}
			errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

// dispatch sends one message. It reports whether a send was attempted.
func (c *Coordinator) dispatch(ctx context.Context, m *dialog.Message) (bool, error) {
	unlock := c.lockParticipant(m.ParticipantID)
	defer unlock()

	p, err := c.store.GetParticipant(ctx, m.ParticipantID)
	if err != nil {
		return false, err
	}
	if !p.MonitoringActive {
		c.metrics.MessageDispatched(dispatchSkipped)
		return false, nil
	}

	option := p.OptionFor(m.SupervisorMessage)
	if option.IsZero() || !communication.Supports(c.comm, option.Type) {
		c.metrics.MessageDispatched(dispatchSkipped)
		return false, c.deactivate(ctx, p.ID, "no usable dialog option")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	sending, err := c.messages.Transition(ctx, m.ID, dialog.StatusPreparedForSending, dialog.StatusSending, nil)
	if errors.Is(err, dialog.ErrStaleStatus) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = recovered(func() error {
		return c.comm.SendMessage(ctx, option, sending.ID, sending.Message)
	})
	if err != nil {
		return true, c.dispatchFailed(ctx, p, sending, err)
	}

	now := c.now()
	rule, err := c.ruleOf(ctx, p, sending)
	if err != nil {
		// the message is out, so it is still recorded as sent
		c.logger.Warn("monitoring_rule_unavailable", "message_id", sending.ID, "error", err)
	}

	to := dialog.StatusSentButNotWaitingForAnswer
	if sending.ExpectsAnswer {
		to = dialog.StatusSentAndWaitingForAnswer
	}
	_, err = c.messages.Transition(ctx, sending.ID, dialog.StatusSending, to, func(m *dialog.Message) {
		m.SentAt = now
		if m.ExpectsAnswer {
			m.UnansweredAfter = now.Add(c.unansweredAfter(rule))
		}
	})
	if err != nil {
		return true, fmt.Errorf("failed to record sent message: %w", err)
	}

	if p.ConsecutiveDispatchFailures > 0 {
		if _, err := c.store.UpdateParticipant(ctx, p.ID, func(p *interventions.Participant) {
			p.ConsecutiveDispatchFailures = 0
		}); err != nil {
			return true, fmt.Errorf("failed to reset dispatch failures: %w", err)
		}
	}

	c.metrics.MessageDispatched(dispatchSent)
	c.logger.Debug("message_sent", "participant_id", p.ID, "message_id", sending.ID, "status", to)
	return true, nil
}

func (c *Coordinator) dispatchFailed(ctx context.Context, p *interventions.Participant, m *dialog.Message, sendErr error) error {
	logger.WarnDispatch(c.logger, m.ID, sendErr)
	c.metrics.MessageDispatched(dispatchFailed)

	var errs []error
	if _, err := c.messages.Transition(ctx, m.ID, dialog.StatusSending, dialog.StatusPreparedForSending, nil); err != nil {
		errs = append(errs, fmt.Errorf("failed to return message to prepared: %w", err))
	}

	updated, err := c.store.UpdateParticipant(ctx, p.ID, func(p *interventions.Participant) {
		p.ConsecutiveDispatchFailures++
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to count dispatch failure: %w", err))
		return errors.Join(errs...)
	}

	limit := c.config.MaxConsecutiveDispatchFailures
	if limit > 0 && updated.ConsecutiveDispatchFailures >= limit {
		if err := c.deactivate(ctx, p.ID, "too many dispatch failures"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) deactivate(ctx context.Context, participantID, reason string) error {
	_, err := c.store.UpdateParticipant(ctx, participantID, func(p *interventions.Participant) {
		p.MonitoringActive = false
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate participant %s: %w", participantID, err)
	}
	c.logger.Warn("participant_deactivated", "participant_id", participantID, "reason", reason)
	return nil
}

func (c *Coordinator) ruleOf(ctx context.Context, p *interventions.Participant, m *dialog.Message) (*rules.MonitoringRule, error) {
	if m.RelatedMonitoringRuleID == "" {
		return nil, nil
	}
	set, err := c.interventions.RuleSet(ctx, p.InterventionID)
	if err != nil {
		return nil, err
	}
	rule, ok := set.Rule(m.RelatedMonitoringRuleID)
	if !ok {
		return nil, fmt.Errorf("rule %s %w", m.RelatedMonitoringRuleID, rules.ErrRuleNotFound)
	}
	return rule, nil
}
