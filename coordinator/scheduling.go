package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
)

// ScheduleMessages runs the monitoring rules once per day for every eligible
// participant and prepares the messages they mark as due. A failing
// participant does not keep the others from being scheduled.
func (c *Coordinator) ScheduleMessages(ctx context.Context) error {
	now := c.now()
	ivs, err := c.store.ListInterventions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list interventions: %w", err)
	}

	var errs []error
	for _, iv := range ivs {
		if !iv.Active || !iv.MonitoringActive {
			continue
		}
		if err := c.scheduleIntervention(ctx, iv, now); err != nil {
			errs = append(errs, fmt.Errorf("intervention %s: %w", iv.ID, err))
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) scheduleIntervention(ctx context.Context, iv *interventions.Intervention, now time.Time) error {
	set, err := c.interventions.RuleSet(ctx, iv.ID)
	if err != nil {
		return err
	}
	participants, err := c.store.ListParticipants(ctx, iv.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	var errs []error
	for _, p := range participants {
		if !interventions.Eligible(iv, p) {
			continue
		}
		if err := recovered(func() error { return c.scheduleParticipant(ctx, iv, set, p.ID, now) }); err != nil {
			errs = append(errs, fmt.Errorf("participant %s: %w", p.ID, err))
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) scheduleParticipant(ctx context.Context, iv *interventions.Intervention, set *rules.RuleSet, participantID string, now time.Time) error {
	unlock := c.lockParticipant(participantID)
	defer unlock()

	// the reaction phases may have changed the participant since it was listed
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if !interventions.Eligible(iv, p) {
		return nil
	}

	today := variables.DateIndex(now)
	if p.DialogStatus.LastDailyIndex == today {
		return nil
	}
	if p.DialogStatus.MonitoringDaysParticipated == 0 && !iv.StartsOn(now.Weekday()) {
		return nil
	}

	res, err := c.resolve(ctx, set.Monitoring, p, now)
	if err != nil {
		return err
	}

	var errs []error
	stopped, err := c.applyResolution(ctx, p, res, now)
	if err != nil {
		errs = append(errs, err)
	}
	if !stopped {
		sendAt := func(d rules.MessageDue) time.Time {
			return time.Date(now.Year(), now.Month(), now.Day(), d.Rule.HourToSendMessage, 0, 0, 0, now.Location())
		}
		if err := c.createMessages(ctx, p, res.MessagesDue, sendAt, nil, now); err != nil {
			errs = append(errs, err)
		}
	}

	// recorded even when some messages failed so the day is not run twice
	_, err = c.store.UpdateParticipant(ctx, p.ID, func(p *interventions.Participant) {
		p.DialogStatus.LastDailyIndex = today
		p.DialogStatus.MonitoringDaysParticipated++
		if p.DialogStatus.MonitoringStartedAt.IsZero() {
			p.DialogStatus.MonitoringStartedAt = now
		}
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to update dialog status: %w", err))
	}

	c.logger.Debug("participant_scheduled", "participant_id", p.ID, "messages_due", len(res.MessagesDue), "stopped", stopped)
	return errors.Join(errs...)
}
