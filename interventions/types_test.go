package interventions

import (
	"testing"
	"time"

	"github.com/liamcoop/interventions/variables"
)

func TestStartsOn(t *testing.T) {
	tests := []struct {
		name string
		days []time.Weekday
		day  time.Weekday
		want bool
	}{
		{"no starting days means any day", nil, time.Sunday, true},
		{"listed day", []time.Weekday{time.Monday, time.Thursday}, time.Thursday, true},
		{"unlisted day", []time.Weekday{time.Monday, time.Thursday}, time.Friday, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := &Intervention{StartingDays: tt.days}
			if got := iv.StartsOn(tt.day); got != tt.want {
				t.Errorf("StartsOn(%s) = %v, want %v", tt.day, got, tt.want)
			}
		})
	}
}

func TestEligible(t *testing.T) {
	active := func() (*Intervention, *Participant) {
		return &Intervention{Active: true, MonitoringActive: true},
			&Participant{MonitoringActive: true, ScreeningDone: true, DataAvailable: true}
	}

	tests := []struct {
		name   string
		change func(*Intervention, *Participant)
		want   bool
	}{
		{"all conditions met", func(*Intervention, *Participant) {}, true},
		{"intervention inactive", func(iv *Intervention, _ *Participant) { iv.Active = false }, false},
		{"intervention monitoring off", func(iv *Intervention, _ *Participant) { iv.MonitoringActive = false }, false},
		{"participant monitoring off", func(_ *Intervention, p *Participant) { p.MonitoringActive = false }, false},
		{"screening not done", func(_ *Intervention, p *Participant) { p.ScreeningDone = false }, false},
		{"data not available", func(_ *Intervention, p *Participant) { p.DataAvailable = false }, false},
		{"monitoring finished", func(_ *Intervention, p *Participant) { p.DialogStatus.MonitoringFinished = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv, p := active()
			tt.change(iv, p)
			if got := Eligible(iv, p); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputedVariables(t *testing.T) {
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	p := &Participant{
		Nickname: "Sam",
		Language: "de",
		Group:    "B",
		DialogStatus: DialogStatus{
			MonitoringStartedAt: started,
		},
	}

	vars := p.ComputedVariables(started.Add(15*24*time.Hour + time.Hour))
	want := map[string]string{
		variables.ParticipantParticipationInDays:  "15",
		variables.ParticipantParticipationInWeeks: "2",
		variables.ParticipantName:                 "Sam",
		variables.ParticipantLanguage:             "de",
		variables.ParticipantGroup:                "B",
	}
	for name, value := range want {
		if vars[name] != value {
			t.Errorf("%s = %q, want %q", name, vars[name], value)
		}
	}

	fresh := (&Participant{}).ComputedVariables(started)
	if fresh[variables.ParticipantParticipationInDays] != "0" {
		t.Errorf("participation of a participant who has not started = %q, want 0", fresh[variables.ParticipantParticipationInDays])
	}
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Yes!  ", "yes"},
		{"7,5 kg", "75 kg"},
		{"3.5", "3.5"},
		{"-2", "-2"},
		{"Ça va?", "a va"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanAnswer(tt.raw); got != tt.want {
			t.Errorf("CleanAnswer(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestMessageGroupValidate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		answer     string
		want       string
		ok         bool
	}{
		{"no expression accepts anything", "", "whatever", "whatever", true},
		{"full match required", `\d+`, "12", "12", true},
		{"partial match rejected", `\d+`, "12 apples", "12 apples", false},
		{"first group becomes the answer", `(\d+)\s*kg`, "75 kg", "75", true},
		{"invalid expression rejects", `(`, "1", "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &MessageGroup{ValidationExpression: tt.expression}
			got, ok := g.Validate(tt.answer)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Validate(%q) = (%q, %v), want (%q, %v)", tt.answer, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMessageGroupMessage(t *testing.T) {
	g := &MessageGroup{Messages: []MonitoringMessage{{ID: "a"}, {ID: "b"}}}

	m, idx, ok := g.Message("b")
	if !ok || idx != 1 || m.ID != "b" {
		t.Errorf("Message(b) = (%v, %d, %v), want (b, 1, true)", m, idx, ok)
	}
	if _, _, ok := g.Message("missing"); ok {
		t.Error("Message(missing) should not be found")
	}
}

func TestValidateMessageGroup(t *testing.T) {
	tests := []struct {
		name    string
		group   MessageGroup
		wantErr bool
	}{
		{
			name:  "valid",
			group: MessageGroup{ID: "g", InterventionID: "iv", ValidationExpression: `(\d+)`, Messages: []MonitoringMessage{{ID: "m1", StoreValueToVariableWithName: "$weight"}}},
		},
		{
			name:    "missing intervention",
			group:   MessageGroup{ID: "g"},
			wantErr: true,
		},
		{
			name:    "bad expression",
			group:   MessageGroup{ID: "g", InterventionID: "iv", ValidationExpression: `[`},
			wantErr: true,
		},
		{
			name:    "duplicate message ids",
			group:   MessageGroup{ID: "g", InterventionID: "iv", Messages: []MonitoringMessage{{ID: "m1"}, {ID: "m1"}}},
			wantErr: true,
		},
		{
			name:    "read-only store variable",
			group:   MessageGroup{ID: "g", InterventionID: "iv", Messages: []MonitoringMessage{{ID: "m1", StoreValueToVariableWithName: variables.ParticipantName}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMessageGroup(&tt.group)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateMessageGroup() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
