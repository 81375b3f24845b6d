package main

import (
	"time"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/dialog"
	"github.com/liamcoop/interventions/interventions"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
	"github.com/liamcoop/interventions/workers"
)

// API Request and Response Models with Swagger annotations

// HealthResponse reports the service state
type HealthResponse struct {
	Status        string             `json:"status" example:"healthy"`
	Storage       string             `json:"storage" example:"postgres"`
	Interventions int                `json:"interventions" example:"2"`
	Workers       []workers.Snapshot `json:"workers"`
} // @name HealthResponse

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error   string `json:"error" example:"rule not found"`
	Details string `json:"details,omitempty" example:"rule r1 rule not found"`
} // @name ErrorResponse

// CreateInterventionRequest represents the request body for creating an intervention
type CreateInterventionRequest struct {
	Name             string         `json:"name" example:"Sleep better" binding:"required"`
	StartingDays     []time.Weekday `json:"startingDays,omitempty" example:"1,3"`
	Active           bool           `json:"active" example:"true"`
	MonitoringActive bool           `json:"monitoringActive" example:"true"`
} // @name CreateInterventionRequest

// InterventionStatusRequest switches an intervention and its monitoring
type InterventionStatusRequest struct {
	Active           bool `json:"active" example:"true"`
	MonitoringActive bool `json:"monitoringActive" example:"true"`
} // @name InterventionStatusRequest

// InterventionsListResponse represents the response for listing interventions
type InterventionsListResponse struct {
	Interventions []*interventions.Intervention `json:"interventions"`
} // @name InterventionsListResponse

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.MonitoringRule `json:"rules"`
} // @name RulesListResponse

// MoveRuleRequest places a rule under a new parent at a new position
type MoveRuleRequest struct {
	ParentID string `json:"parentId" example:"rule-1"`
	Order    int    `json:"order" example:"2"`
} // @name MoveRuleRequest

// DeleteRuleResponse lists every rule removed with the deleted one
type DeleteRuleResponse struct {
	Deleted []string `json:"deleted"`
} // @name DeleteRuleResponse

// MessageGroupsListResponse represents the response for listing message groups
type MessageGroupsListResponse struct {
	MessageGroups []*interventions.MessageGroup `json:"messageGroups"`
} // @name MessageGroupsListResponse

// CreateParticipantRequest represents the request body for registering a participant
type CreateParticipantRequest struct {
	ID                     string                     `json:"id,omitempty"`
	Nickname               string                     `json:"nickname" example:"Sam"`
	Language               string                     `json:"language" example:"en"`
	Group                  string                     `json:"group" example:"A"`
	DialogOption           communication.DialogOption `json:"dialogOption"`
	SupervisorDialogOption communication.DialogOption `json:"supervisorDialogOption"`
	MonitoringActive       bool                       `json:"monitoringActive" example:"true"`
	ScreeningDone          bool                       `json:"screeningDone" example:"true"`
	DataAvailable          bool                       `json:"dataAvailable" example:"true"`
} // @name CreateParticipantRequest

// ParticipantsListResponse represents the response for listing participants
type ParticipantsListResponse struct {
	Participants []*interventions.Participant `json:"participants"`
} // @name ParticipantsListResponse

// ManualMessageRequest queues a message written by an operator
type ManualMessageRequest struct {
	Message    string `json:"message" example:"Hi $participantName, how are you?" binding:"required"`
	Supervisor bool   `json:"supervisor" example:"false"`
} // @name ManualMessageRequest

// MessagesListResponse represents a participant's dialog
type MessagesListResponse struct {
	Messages []*dialog.Message `json:"messages"`
} // @name MessagesListResponse

// SetVariableRequest writes a participant variable
type SetVariableRequest struct {
	Value string `json:"value" example:"7"`
} // @name SetVariableRequest

// VariablesListResponse represents the variables of a participant
type VariablesListResponse struct {
	Variables []*variables.Variable `json:"variables"`
} // @name VariablesListResponse

// ReceivedMessageRequest injects a received message into the loopback manager
type ReceivedMessageRequest struct {
	Type       communication.DialogOptionType `json:"type" example:"SMS"`
	Sender     string                         `json:"sender" example:"+41790000000" binding:"required"`
	Recipient  string                         `json:"recipient,omitempty" example:"+41790000001"`
	Message    string                         `json:"message" example:"7"`
	ReceivedAt *time.Time                     `json:"receivedAt,omitempty" example:"2024-01-15T10:30:00Z"`
} // @name ReceivedMessageRequest
