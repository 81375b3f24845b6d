package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/variables"
)

// StatisticsSink receives the daily statistics snapshot
type StatisticsSink interface {
	WriteStatistics(ctx context.Context, values map[string]string) error
}

// WriterSink writes statistics as sorted key=value lines
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteStatistics(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeProperties(s.w, values)
}

// FileSink replaces a file with each snapshot
type FileSink struct {
	Path string
}

func (s *FileSink) WriteStatistics(_ context.Context, values map[string]string) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create statistics directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".statistics-*")
	if err != nil {
		return fmt.Errorf("failed to create statistics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeProperties(tmp, values); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

func writeProperties(w io.Writer, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := fmt.Fprintf(bw, "%s=%s\n", k, values[k]); err != nil {
			return fmt.Errorf("failed to write statistics: %w", err)
		}
	}
	return bw.Flush()
}

// Statistics writes a snapshot to the sink once per daily index. It does
// nothing when statistics are disabled or no sink is configured.
func (c *Coordinator) Statistics(ctx context.Context) error {
	if !c.config.StatisticsEnabled || c.statistics == nil {
		return nil
	}

	c.statisticsMu.Lock()
	defer c.statisticsMu.Unlock()

	today := variables.DateIndex(c.now())
	if c.lastStatistics == today {
		return nil
	}

	values, err := c.collectStatistics(ctx, today)
	if err != nil {
		return err
	}
	if err := c.statistics.WriteStatistics(ctx, values); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	c.lastStatistics = today
	c.logger.Info("statistics_written", "daily_index", today, "values", len(values))
	return nil
}

type interventionCounts struct {
	sent, received, answered, unanswered int
}

func (ic *interventionCounts) add(status dialog.Status) {
	switch status {
	case dialog.StatusReceivedUnexpectedly:
		ic.received++
	case dialog.StatusSentAndAnsweredAndProcessed, dialog.StatusSentAndAnsweredByParticipant:
		ic.sent++
		ic.received++
		ic.answered++
	case dialog.StatusSentAndNotAnsweredAndProcessed:
		ic.sent++
		ic.unanswered++
	case dialog.StatusSentAndWaitingForAnswer, dialog.StatusSentButNotWaitingForAnswer:
		ic.sent++
	}
}

func (c *Coordinator) collectStatistics(ctx context.Context, today string) (map[string]string, error) {
	values := map[string]string{"created": today}

	ivs, err := c.store.ListInterventions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interventions: %w", err)
	}

	active, participants, monitored := 0, 0, 0
	for _, iv := range ivs {
		ps, err := c.store.ListParticipants(ctx, iv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list participants of %s: %w", iv.ID, err)
		}
		participants += len(ps)

		if !iv.Active || !iv.MonitoringActive {
			continue
		}
		active++

		var counts interventionCounts
		for _, p := range ps {
			if !p.MonitoringActive {
				continue
			}
			monitored++
			if err := c.countMessages(ctx, p, &counts); err != nil {
				return nil, err
			}
		}

		prefix := "intervention." + iv.ID + "."
		values[prefix+"name"] = iv.Name
		values[prefix+"totalSentMessages"] = strconv.Itoa(counts.sent)
		values[prefix+"totalReceivedMessages"] = strconv.Itoa(counts.received)
		values[prefix+"answeredQuestions"] = strconv.Itoa(counts.answered)
		values[prefix+"unansweredQuestions"] = strconv.Itoa(counts.unanswered)
	}
	values["activeInterventions"] = strconv.Itoa(active)
	values["totalInterventions"] = strconv.Itoa(len(ivs))
	values["totalParticipants"] = strconv.Itoa(participants)
	values["monitoredParticipants"] = strconv.Itoa(monitored)

	byStatus, err := c.messages.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dialog messages: %w", err)
	}
	for _, s := range dialog.Statuses {
		values["dialogMessages."+string(s)] = strconv.Itoa(byStatus[s])
	}

	for name, n := range logger.Counters() {
		values["log."+name] = strconv.FormatInt(n, 10)
	}
	return values, nil
}

func (c *Coordinator) countMessages(ctx context.Context, p *interventions.Participant, counts *interventionCounts) error {
	messages, err := c.messages.ListByParticipant(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list messages of %s: %w", p.ID, err)
	}
	for _, m := range messages {
		counts.add(m.Status)
	}
	return nil
}

// FinishScreening closes screening survey sessions participants left unfinished
func (c *Coordinator) FinishScreening(ctx context.Context) error {
	return c.screening.FinishUnfinishedScreeningSurveys(ctx)
}
