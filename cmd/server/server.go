package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/coordinator"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/internal/config"
	"github.com/liamcoop/interventions/internal/logger"
	"github.com/liamcoop/interventions/internal/metrics"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
	"github.com/liamcoop/interventions/workers"
)

type Server struct {
	db          *sql.DB
	manager     *interventions.Manager
	store       interventions.Store
	variables   variables.Store
	messages    dialog.Store
	coordinator *coordinator.Coordinator
	loopback    *communication.Loopback
	metrics     *metrics.Metrics
	workers     []*workers.Worker
	logger      *slog.Logger
	router      *chi.Mux
}

// NewServer wires the service. Without a database URL all state is kept in
// memory.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.DatabaseURL == "" {
		return newServer(cfg, nil)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newServer(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newServer(cfg *config.Config, db *sql.DB) (*Server, error) {
	var (
		store     interventions.Store
		ruleStore rules.RuleStore
		vars      variables.Store
		messages  dialog.Store
	)
	history := variables.WithHistory(cfg.VariableHistory)
	if db != nil {
		store = interventions.NewPostgresStore(db)
		ruleStore = rules.NewPostgresRuleStore(db)
		vars = variables.NewPostgresStore(db, history)
		messages = dialog.NewPostgresStore(db)
	} else {
		store = interventions.NewMemoryStore()
		ruleStore = rules.NewInMemoryRuleStore()
		vars = variables.NewMemoryStore(history)
		messages = dialog.NewMemoryStore()
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	manager := interventions.NewManager(store, ruleStore, interventions.WithLogger(logger.With("interventions")))
	loopback := communication.NewLoopback()

	opts := []coordinator.Option{coordinator.WithMetrics(m)}
	if cfg.StatisticsEnabled {
		opts = append(opts, coordinator.WithStatisticsSink(&coordinator.FileSink{Path: cfg.StatisticsFile}))
	}
	coord := coordinator.New(manager, vars, messages, loopback, engine, coordinator.Config{
		StopWords:                      cfg.StopWords,
		MaxConsecutiveDispatchFailures: cfg.MaxConsecutiveDispatchFailures,
		MaxMessagesPerCycle:            cfg.MaxMessagesPerCycle,
		DispatchRatePerSecond:          cfg.DispatchRatePerSecond,
		DefaultHoursUntilUnanswered:    cfg.DefaultHoursUntilUnanswered,
		StatisticsEnabled:              cfg.StatisticsEnabled,
	}, opts...)

	workerOpts := []workers.Option{workers.WithMetrics(m)}
	s := &Server{
		db:          db,
		manager:     manager,
		store:       store,
		variables:   vars,
		messages:    messages,
		coordinator: coord,
		loopback:    loopback,
		metrics:     m,
		workers: []*workers.Worker{
			workers.NewIncoming(coord, cfg.IncomingInterval, workerOpts...),
			workers.NewOutgoing(coord, cfg.OutgoingInterval, workerOpts...),
			workers.NewMonitoring(coord, cfg.MonitoringInterval, workerOpts...),
		},
		logger: logger.With("http"),
	}
	s.setupRoutes()
	return s, nil
}

// Run loads the rule sets, recovers interrupted dispatches and runs the
// workers until ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load rule sets: %w", err)
	}
	if err := s.coordinator.Start(ctx); err != nil {
		return err
	}
	return workers.RunGroup(ctx, s.workers...)
}

// Close releases the database connection
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check and metrics
	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1/interventions", func(r chi.Router) {
		r.Get("/", s.handleListInterventions)
		r.Post("/", s.handleCreateIntervention)

		r.Route("/{interventionId}", func(r chi.Router) {
			r.Get("/", s.handleGetIntervention)
			r.Put("/status", s.handleSetInterventionStatus)

			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
			r.Post("/rules/{ruleId}/move", s.handleMoveRule)

			r.Post("/message-groups", s.handleCreateMessageGroup)
			r.Get("/message-groups", s.handleListMessageGroups)

			r.Post("/participants", s.handleCreateParticipant)
			r.Get("/participants", s.handleListParticipants)
		})
	})

	r.Route("/api/v1/participants/{participantId}", func(r chi.Router) {
		r.Post("/messages", s.handleSendManualMessage)
		r.Get("/messages", s.handleListMessages)
		r.Get("/rules/{ruleId}/evaluation", s.handleEvaluateRule)
		r.Get("/variables", s.handleListVariables)
		r.Put("/variables/{name}", s.handleSetVariable)
	})

	r.Post("/api/v1/loopback/received", s.handleLoopbackReceived)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and counts failed responses
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			s.logger.Error("http_request", attrs...)
		case status >= 400:
			logger.WarnHttp4xx()
			s.logger.Warn("http_request", attrs...)
		default:
			s.logger.Debug("http_request", attrs...)
		}
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	ivs, err := s.store.ListInterventions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list interventions", err)
		return
	}

	snapshots := make([]workers.Snapshot, 0, len(s.workers))
	for _, wk := range s.workers {
		snapshots = append(snapshots, wk.Snapshot())
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Storage:       storage,
		Interventions: len(ivs),
		Workers:       snapshots,
	})
}

// Interventions

func (s *Server) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	ivs, err := s.store.ListInterventions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list interventions", err)
		return
	}
	respondJSON(w, http.StatusOK, InterventionsListResponse{Interventions: nonNil(ivs)})
}

func (s *Server) handleCreateIntervention(w http.ResponseWriter, r *http.Request) {
	var req CreateInterventionRequest
	if !decode(w, r, &req) {
		return
	}

	iv := &interventions.Intervention{
		Name:             req.Name,
		StartingDays:     req.StartingDays,
		Active:           req.Active,
		MonitoringActive: req.MonitoringActive,
	}
	if err := s.manager.CreateIntervention(r.Context(), iv); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to create intervention", err)
		return
	}
	respondJSON(w, http.StatusCreated, iv)
}

func (s *Server) handleGetIntervention(w http.ResponseWriter, r *http.Request) {
	iv, err := s.store.GetIntervention(r.Context(), chi.URLParam(r, "interventionId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "intervention not found", err)
		return
	}
	respondJSON(w, http.StatusOK, iv)
}

func (s *Server) handleSetInterventionStatus(w http.ResponseWriter, r *http.Request) {
	var req InterventionStatusRequest
	if !decode(w, r, &req) {
		return
	}
	iv, err := s.manager.SetInterventionStatus(r.Context(), chi.URLParam(r, "interventionId"), req.Active, req.MonitoringActive)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to update intervention", err)
		return
	}
	respondJSON(w, http.StatusOK, iv)
}

// Rules

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.MonitoringRule
	if !decode(w, r, &rule) {
		return
	}
	rule.InterventionID = chi.URLParam(r, "interventionId")

	if err := s.manager.CreateRule(r.Context(), &rule); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := s.manager.ListRules(r.Context(), chi.URLParam(r, "interventionId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: nonNil(all)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.manager.GetRule(r.Context(), chi.URLParam(r, "interventionId"), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.MonitoringRule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")
	rule.InterventionID = chi.URLParam(r, "interventionId")

	if err := s.manager.UpdateRule(r.Context(), &rule); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleMoveRule(w http.ResponseWriter, r *http.Request) {
	var req MoveRuleRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := s.manager.MoveRule(r.Context(), chi.URLParam(r, "interventionId"), chi.URLParam(r, "ruleId"), req.ParentID, req.Order)
	if err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to move rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.manager.DeleteRule(r.Context(), chi.URLParam(r, "interventionId"), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to delete rule", err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteRuleResponse{Deleted: deleted})
}

// Message groups

func (s *Server) handleCreateMessageGroup(w http.ResponseWriter, r *http.Request) {
	var g interventions.MessageGroup
	if !decode(w, r, &g) {
		return
	}
	g.InterventionID = chi.URLParam(r, "interventionId")

	if err := s.manager.CreateMessageGroup(r.Context(), &g); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to create message group", err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListMessageGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListMessageGroups(r.Context(), chi.URLParam(r, "interventionId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to list message groups", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageGroupsListResponse{MessageGroups: nonNil(groups)})
}

// Participants

func (s *Server) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req CreateParticipantRequest
	if !decode(w, r, &req) {
		return
	}

	p := &interventions.Participant{
		ID:                     req.ID,
		InterventionID:         chi.URLParam(r, "interventionId"),
		Nickname:               req.Nickname,
		Language:               req.Language,
		Group:                  req.Group,
		DialogOption:           req.DialogOption,
		SupervisorDialogOption: req.SupervisorDialogOption,
		MonitoringActive:       req.MonitoringActive,
		ScreeningDone:          req.ScreeningDone,
		DataAvailable:          req.DataAvailable,
	}
	if err := s.manager.CreateParticipant(r.Context(), p); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to create participant", err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "interventionId")
	if _, err := s.store.GetIntervention(r.Context(), id); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "intervention not found", err)
		return
	}
	ps, err := s.store.ListParticipants(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list participants", err)
		return
	}
	respondJSON(w, http.StatusOK, ParticipantsListResponse{Participants: nonNil(ps)})
}

func (s *Server) handleSendManualMessage(w http.ResponseWriter, r *http.Request) {
	var req ManualMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required", nil)
		return
	}

	m, err := s.coordinator.SendManualMessage(r.Context(), chi.URLParam(r, "participantId"), req.Message, req.Supervisor)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to queue message", err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantId")
	if _, err := s.store.GetParticipant(r.Context(), id); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "participant not found", err)
		return
	}
	ms, err := s.messages.ListByParticipant(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list messages", err)
		return
	}
	respondJSON(w, http.StatusOK, MessagesListResponse{Messages: nonNil(ms)})
}

func (s *Server) handleEvaluateRule(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	result, err := s.coordinator.EvaluateRuleForParticipant(r.Context(), chi.URLParam(r, "participantId"), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"result":         result,
		"evaluationTime": time.Since(startTime).String(),
	})
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantId")
	if _, err := s.store.GetParticipant(r.Context(), id); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "participant not found", err)
		return
	}
	vars, err := s.variables.List(r.Context(), variables.Participant(id))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list variables", err)
		return
	}
	respondJSON(w, http.StatusOK, VariablesListResponse{Variables: nonNil(vars)})
}

func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	var req SetVariableRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "participantId")
	if _, err := s.store.GetParticipant(r.Context(), id); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "participant not found", err)
		return
	}

	name := chi.URLParam(r, "name")
	if !strings.HasPrefix(name, "$") {
		name = "$" + name
	}
	scope := variables.Participant(id)
	if err := s.variables.Set(r.Context(), scope, name, req.Value); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to set variable", err)
		return
	}
	v, err := s.variables.Get(r.Context(), scope, name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read variable", err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleLoopbackReceived(w http.ResponseWriter, r *http.Request) {
	var req ReceivedMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Sender == "" {
		respondError(w, http.StatusBadRequest, "sender is required", nil)
		return
	}
	if req.Type == "" {
		req.Type = communication.DialogOptionSMS
	}

	msg := communication.ReceivedMessage{
		Type:      req.Type,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Message:   req.Message,
	}
	if req.ReceivedAt != nil {
		msg.ReceivedAt = *req.ReceivedAt
	}
	s.loopback.Inject(msg)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// Helper functions

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// statusFor maps domain errors to a response status
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, interventions.ErrNotFound),
		errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, dialog.ErrNotFound),
		errors.Is(err, variables.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interventions.ErrExists),
		errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, variables.ErrReadOnly),
		errors.Is(err, variables.ErrInvalidName):
		return http.StatusBadRequest
	}
	return fallback
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
