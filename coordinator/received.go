package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/interventions"
)

// Outcomes of a received message
const (
	outcomeAnswered       = "answered"
	outcomeNotProcessable = "not_processable"
	outcomeUnexpected     = "unexpected"
	outcomeStop           = "stop"
	outcomeDuplicate      = "duplicate"
	outcomeUnknownSender  = "unknown_sender"
)

// ReceiveMessages pulls received messages from the communication manager
// and handles each of them. A message that cannot be handled is logged and
// skipped.
func (c *Coordinator) ReceiveMessages(ctx context.Context) error {
	received, err := c.comm.ReceiveMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range received {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := recovered(func() error { return c.HandleReceivedMessage(ctx, msg) })
		if err != nil && !errors.Is(err, ErrUnknownSender) {
			c.logger.Error("received_message_failed", "sender", msg.Sender, "error", err)
		}
	}
	return nil
}

// HandleReceivedMessage matches a received message to the participant's
// newest message awaiting an answer. Replays of a message already recorded
// are ignored.
func (c *Coordinator) HandleReceivedMessage(ctx context.Context, msg communication.ReceivedMessage) error {
	option := communication.DialogOption{Type: msg.Type, Data: msg.Sender}
	p, err := c.store.FindParticipantByDialogOption(ctx, option)
	if errors.Is(err, interventions.ErrNotFound) {
		logger.WarnUnknownSender(c.logger, msg.Sender)
		c.metrics.MessageReceived(outcomeUnknownSender)
		return fmt.Errorf("%w: %s", ErrUnknownSender, msg.Sender)
	}
	if err != nil {
		return fmt.Errorf("failed to find sender: %w", err)
	}

	unlock := c.lockParticipant(p.ID)
	defer unlock()

	seen, err := c.messages.HasReceived(ctx, p.ID, msg.Message, msg.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to check for replayed message: %w", err)
	}
	if seen {
		c.logger.Debug("received_message_replayed", "participant_id", p.ID)
		c.metrics.MessageReceived(outcomeDuplicate)
		return nil
	}

	cleaned := interventions.CleanAnswer(msg.Message)

	if c.isStopWord(cleaned) {
		if err := c.recordUnexpected(ctx, p.ID, msg, cleaned); err != nil {
			return err
		}
		c.metrics.MessageReceived(outcomeStop)
		return c.finishMonitoring(ctx, p.ID, c.now())
	}

	waiting, err := c.messages.FindWaitingForAnswer(ctx, p.ID, msg.ReceivedAt)
	if errors.Is(err, dialog.ErrNotFound) {
		c.logger.Debug("received_message_unexpected", "participant_id", p.ID)
		c.metrics.MessageReceived(outcomeUnexpected)
		return c.recordUnexpected(ctx, p.ID, msg, cleaned)
	}
	if err != nil {
		return fmt.Errorf("failed to find message waiting for answer: %w", err)
	}

	answer, ok, err := c.validateAnswer(ctx, waiting, cleaned)
	if err != nil {
		return err
	}

	if !ok {
		_, err := c.messages.Update(ctx, waiting.ID, dialog.StatusSentAndWaitingForAnswer, func(m *dialog.Message) {
			m.AnswerReceivedAt = msg.ReceivedAt
			m.AnswerReceived = cleaned
			m.AnswerReceivedRaw = msg.Message
			m.AnswerNotAutomaticallyProcessable = true
		})
		if err != nil {
			return fmt.Errorf("failed to flag message %s: %w", waiting.ID, err)
		}
		c.logger.Info("answer_not_processable", "participant_id", p.ID, "message_id", waiting.ID)
		c.metrics.MessageReceived(outcomeNotProcessable)
		return nil
	}

	_, err = c.messages.Transition(ctx, waiting.ID, dialog.StatusSentAndWaitingForAnswer, dialog.StatusSentAndAnsweredByParticipant, func(m *dialog.Message) {
		m.AnswerReceivedAt = msg.ReceivedAt
		m.AnswerReceived = answer
		m.AnswerReceivedRaw = msg.Message
	})
	if err != nil {
		return fmt.Errorf("failed to record answer to message %s: %w", waiting.ID, err)
	}
	c.metrics.MessageReceived(outcomeAnswered)
	return nil
}

// validateAnswer applies the validation expression of the message's group
func (c *Coordinator) validateAnswer(ctx context.Context, m *dialog.Message, cleaned string) (string, bool, error) {
	if m.RelatedMessageGroupID == "" {
		return cleaned, true, nil
	}
	group, err := c.store.GetMessageGroup(ctx, m.RelatedMessageGroupID)
	if errors.Is(err, interventions.ErrNotFound) {
		return cleaned, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load message group %s: %w", m.RelatedMessageGroupID, err)
	}
	answer, ok := group.Validate(cleaned)
	return answer, ok, nil
}

func (c *Coordinator) recordUnexpected(ctx context.Context, participantID string, msg communication.ReceivedMessage, cleaned string) error {
	err := c.messages.Create(ctx, &dialog.Message{
		ParticipantID:     participantID,
		Status:            dialog.StatusReceivedUnexpectedly,
		AnswerReceivedAt:  msg.ReceivedAt,
		AnswerReceived:    cleaned,
		AnswerReceivedRaw: msg.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to record unexpected message: %w", err)
	}
	return nil
}

func (c *Coordinator) isStopWord(cleaned string) bool {
	for _, w := range c.config.StopWords {
		if cleaned == w {
			return true
		}
	}
	return false
}
