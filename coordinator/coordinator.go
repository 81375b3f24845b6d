// Package coordinator ties rule evaluation to the dialog message lifecycle.
// It handles received messages, reacts to answered and unanswered messages,
// schedules new messages from the monitoring rules and dispatches prepared
// messages. The workers call into it once per phase.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/internal/metrics"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
)

// ErrUnknownSender is returned for received messages no participant of an
// active intervention can be found for
var ErrUnknownSender = errors.New("unknown sender")

// Config holds the coordinator settings
type Config struct {
	StopWords                      []string
	MaxConsecutiveDispatchFailures int
	MaxMessagesPerCycle            int
	DispatchRatePerSecond          float64
	DefaultHoursUntilUnanswered    int
	StatisticsEnabled              bool
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		StopWords:                      []string{"stop", "stopp"},
		MaxConsecutiveDispatchFailures: 3,
		MaxMessagesPerCycle:            25,
		DispatchRatePerSecond:          10,
		DefaultHoursUntilUnanswered:    rules.DefaultHoursUntilUnanswered,
	}
}

// MicroDialogActivator starts a micro dialog for a participant. Micro dialogs
// are run by a separate engine.
type MicroDialogActivator interface {
	ActivateMicroDialog(ctx context.Context, participantID, microDialogID string, supervisor bool) error
}

// ScreeningFinisher closes screening survey sessions participants left unfinished
type ScreeningFinisher interface {
	FinishUnfinishedScreeningSurveys(ctx context.Context) error
}

type noopCollaborators struct{}

func (noopCollaborators) ActivateMicroDialog(context.Context, string, string, bool) error {
	return nil
}

func (noopCollaborators) FinishUnfinishedScreeningSurveys(context.Context) error {
	return nil
}

// Coordinator executes interventions
type Coordinator struct {
	interventions *interventions.Manager
	store         interventions.Store
	variables     variables.Store
	messages      dialog.Store
	comm          communication.Manager
	engine        *rules.Engine
	selector      *interventions.Selector
	limiter       *rate.Limiter

	microDialogs MicroDialogActivator
	screening    ScreeningFinisher
	statistics   StatisticsSink

	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	lastStatistics string
	statisticsMu   sync.Mutex
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics records coordinator activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithMicroDialogActivator forwards micro dialog activations to a
func WithMicroDialogActivator(a MicroDialogActivator) Option {
	return func(c *Coordinator) {
		c.microDialogs = a
	}
}

// WithScreeningFinisher sets the collaborator run by the screening phase
func WithScreeningFinisher(f ScreeningFinisher) Option {
	return func(c *Coordinator) {
		c.screening = f
	}
}

// WithStatisticsSink sets where daily statistics are written
func WithStatisticsSink(s StatisticsSink) Option {
	return func(c *Coordinator) {
		c.statistics = s
	}
}

// New creates a coordinator
func New(
	manager *interventions.Manager,
	vars variables.Store,
	messages dialog.Store,
	comm communication.Manager,
	engine *rules.Engine,
	config Config,
	opts ...Option,
) *Coordinator {
	burst := int(config.DispatchRatePerSecond)
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(config.DispatchRatePerSecond)
	if config.DispatchRatePerSecond <= 0 {
		limit = rate.Inf
	}

	c := &Coordinator{
		interventions: manager,
		store:         manager.Store(),
		variables:     vars,
		messages:      messages,
		comm:          comm,
		engine:        engine,
		selector:      interventions.NewSelector(engine, messages),
		limiter:       rate.NewLimiter(limit, burst),
		microDialogs:  noopCollaborators{},
		screening:     noopCollaborators{},
		config:        config,
		logger:        logger.With("coordinator"),
		now:           time.Now,
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start prepares the coordinator after a restart: messages a crash left
// in SENDING are returned to PREPARED_FOR_SENDING.
func (c *Coordinator) Start(ctx context.Context) error {
	n, err := c.messages.ResetSending(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset sending messages: %w", err)
	}
	if n > 0 {
		c.logger.Warn("sending_messages_reset", "count", n)
	}
	return nil
}

// lockParticipant serializes work on one participant across workers
func (c *Coordinator) lockParticipant(participantID string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[participantID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[participantID] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// recovered runs fn and returns a panic inside it as an error
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// participantVariables gives the resolver access to one participant's variables
type participantVariables struct {
	store       variables.Store
	participant *interventions.Participant
	now         time.Time
}

func (v *participantVariables) Snapshot(ctx context.Context) (rules.Variables, error) {
	values, err := variables.Snapshot(ctx, v.store, v.participant.ID, v.now, v.participant.ComputedVariables(v.now))
	if err != nil {
		return nil, err
	}
	return rules.Variables(values), nil
}

func (v *participantVariables) Store(ctx context.Context, name, value string, supervisor bool) error {
	scope := variables.Participant(v.participant.ID)
	if supervisor {
		scope = variables.Supervisor(v.participant.ID)
	}
	return v.store.Set(ctx, scope, name, value)
}

func (c *Coordinator) access(p *interventions.Participant, now time.Time) *participantVariables {
	return &participantVariables{store: c.variables, participant: p, now: now}
}

// resolve runs a rule tree for a participant and records its evaluations
func (c *Coordinator) resolve(ctx context.Context, tree *rules.Tree, p *interventions.Participant, now time.Time) (*rules.Resolution, error) {
	res, err := c.engine.Resolve(ctx, tree, c.access(p, now))
	if res != nil {
		for _, r := range res.Results {
			c.metrics.RuleEvaluated(r.RuleMatchesEquationSign, r.EvaluatedSuccessful)
		}
		failed := res.Failed()
		logger.CountEvaluationFailures(len(failed))
		for _, r := range failed {
			c.logger.Debug("rule_evaluation_failed", "participant_id", p.ID, "rule_id", r.RuleID, "error", r.ErrorMessage)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules for participant %s: %w", p.ID, err)
	}
	return res, nil
}

// applyResolution forwards micro dialog activations and ends monitoring
// when a stop rule matched. It reports whether monitoring was stopped.
func (c *Coordinator) applyResolution(ctx context.Context, p *interventions.Participant, res *rules.Resolution, now time.Time) (bool, error) {
	if res.StopIntervention {
		return true, c.finishMonitoring(ctx, p.ID, now)
	}

	var errs []error
	for _, a := range res.MicroDialogActivations {
		if err := c.microDialogs.ActivateMicroDialog(ctx, p.ID, a.MicroDialogID, a.ToSupervisor); err != nil {
			errs = append(errs, fmt.Errorf("failed to activate micro dialog %s: %w", a.MicroDialogID, err))
		}
	}
	return false, errors.Join(errs...)
}

func (c *Coordinator) finishMonitoring(ctx context.Context, participantID string, now time.Time) error {
	_, err := c.store.UpdateParticipant(ctx, participantID, func(p *interventions.Participant) {
		p.DialogStatus.MonitoringFinished = true
		p.DialogStatus.MonitoringFinishedAt = now
	})
	if err != nil {
		return fmt.Errorf("failed to finish monitoring of participant %s: %w", participantID, err)
	}
	c.logger.Info("monitoring_finished", "participant_id", participantID)
	return nil
}

// unansweredAfter returns how long an answer to a message of rule is awaited
func (c *Coordinator) unansweredAfter(rule *rules.MonitoringRule) time.Duration {
	if rule != nil && rule.HoursUntilMessageIsHandledAsUnanswered > 0 {
		return rule.UnansweredAfter()
	}
	hours := c.config.DefaultHoursUntilUnanswered
	if hours <= 0 {
		hours = rules.DefaultHoursUntilUnanswered
	}
	return time.Duration(hours) * time.Hour
}

// interventionCache memoizes intervention lookups within one pass
type interventionCache struct {
	store interventions.Store
	byID  map[string]*interventions.Intervention
}

func newInterventionCache(store interventions.Store) *interventionCache {
	return &interventionCache{store: store, byID: make(map[string]*interventions.Intervention)}
}

func (ic *interventionCache) get(ctx context.Context, id string) (*interventions.Intervention, error) {
	if iv, ok := ic.byID[id]; ok {
		return iv, nil
	}
	iv, err := ic.store.GetIntervention(ctx, id)
	if err != nil {
		return nil, err
	}
	ic.byID[id] = iv
	return iv, nil
}
