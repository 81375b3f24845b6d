package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
)

// ReactOnUnansweredMessages closes messages whose answer deadline passed and
// runs the unanswered reply rules of their monitoring rule
func (c *Coordinator) ReactOnUnansweredMessages(ctx context.Context) error {
	now := c.now()
	overdue, err := c.messages.ListUnansweredBefore(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list unanswered messages: %w", err)
	}
	return c.react(ctx, overdue, rules.ReplyCaseUnanswered, now)
}

// ReactOnAnsweredMessages stores the answers participants gave, closes the
// messages and runs the answered reply rules of their monitoring rule
func (c *Coordinator) ReactOnAnsweredMessages(ctx context.Context) error {
	answered, err := c.messages.ListByStatus(ctx, dialog.StatusSentAndAnsweredByParticipant)
	if err != nil {
		return fmt.Errorf("failed to list answered messages: %w", err)
	}
	return c.react(ctx, answered, rules.ReplyCaseAnswered, c.now())
}

func (c *Coordinator) react(ctx context.Context, messages []*dialog.Message, replyCase rules.ReplyCase, now time.Time) error {
	ivs := newInterventionCache(c.store)

	var errs []error
	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := recovered(func() error { return c.reactOn(ctx, ivs, m, replyCase, now) }); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) reactOn(ctx context.Context, ivs *interventionCache, m *dialog.Message, replyCase rules.ReplyCase, now time.Time) error {
	unlock := c.lockParticipant(m.ParticipantID)
	defer unlock()

	p, err := c.store.GetParticipant(ctx, m.ParticipantID)
	if err != nil {
		return err
	}
	iv, err := ivs.get(ctx, p.InterventionID)
	if err != nil {
		return err
	}
	if !interventions.Eligible(iv, p) {
		return nil
	}

	if replyCase == rules.ReplyCaseAnswered {
		if err := c.storeAnswer(ctx, p, m); err != nil {
			return err
		}
		_, err = c.messages.Transition(ctx, m.ID, dialog.StatusSentAndAnsweredByParticipant, dialog.StatusSentAndAnsweredAndProcessed, func(m *dialog.Message) {
			m.ProcessedAt = now
		})
	} else {
		_, err = c.messages.Transition(ctx, m.ID, dialog.StatusSentAndWaitingForAnswer, dialog.StatusSentAndNotAnsweredAndProcessed, func(m *dialog.Message) {
			m.ProcessedAt = now
		})
	}
	if errors.Is(err, dialog.ErrStaleStatus) {
		// another worker got there first
		return nil
	}
	if err != nil {
		return err
	}

	if m.RelatedMonitoringRuleID == "" {
		return nil
	}
	return c.runReplyRules(ctx, p, m, replyCase, now)
}

// storeAnswer writes the answer to the variable named by the monitoring
// message and to the reply variable
func (c *Coordinator) storeAnswer(ctx context.Context, p *interventions.Participant, m *dialog.Message) error {
	scope := variables.Participant(p.ID)

	if m.RelatedMessageGroupID != "" && m.RelatedMonitoringMessageID != "" {
		group, err := c.store.GetMessageGroup(ctx, m.RelatedMessageGroupID)
		if err != nil && !errors.Is(err, interventions.ErrNotFound) {
			return err
		}
		if group != nil {
			if mm, _, ok := group.Message(m.RelatedMonitoringMessageID); ok && mm.StoreValueToVariableWithName != "" {
				if err := c.variables.Set(ctx, scope, mm.StoreValueToVariableWithName, m.AnswerReceived); err != nil {
					return fmt.Errorf("failed to store answer: %w", err)
				}
			}
		}
	}

	if err := c.variables.Set(ctx, scope, variables.ParticipantMessageReply, m.AnswerReceived); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	return nil
}

func (c *Coordinator) runReplyRules(ctx context.Context, p *interventions.Participant, m *dialog.Message, replyCase rules.ReplyCase, now time.Time) error {
	set, err := c.interventions.RuleSet(ctx, p.InterventionID)
	if err != nil {
		return err
	}
	tree := set.ReplyTree(m.RelatedMonitoringRuleID, replyCase)
	if tree.Len() == 0 {
		return nil
	}

	res, err := c.resolve(ctx, tree, p, now)
	if err != nil {
		return err
	}
	stopped, err := c.applyResolution(ctx, p, res, now)
	if stopped || err != nil {
		return err
	}

	immediately := func(rules.MessageDue) time.Time { return now }
	return c.createMessages(ctx, p, res.MessagesDue, immediately, m, now)
}
