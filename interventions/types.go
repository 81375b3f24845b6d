package interventions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/interventions/communication"
	"github.com/liamcoop/interventions/rules"
	"github.com/liamcoop/interventions/variables"
)

// Intervention is a program participants are monitored in
type Intervention struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Active           bool           `json:"active"`
	MonitoringActive bool           `json:"monitoringActive"`
	StartingDays     []time.Weekday `json:"startingDays"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// StartsOn reports whether monitoring of new participants may begin on the
// given weekday. No starting days means any day.
func (iv *Intervention) StartsOn(day time.Weekday) bool {
	if len(iv.StartingDays) == 0 {
		return true
	}
	for _, d := range iv.StartingDays {
		if d == day {
			return true
		}
	}
	return false
}

// DialogStatus tracks a participant's progress through monitoring
type DialogStatus struct {
	MonitoringStartedAt        time.Time `json:"monitoringStartedAt,omitempty"`
	MonitoringDaysParticipated int       `json:"monitoringDaysParticipated"`
	LastDailyIndex             string    `json:"lastDailyIndex,omitempty"`
	MonitoringFinished         bool      `json:"monitoringFinished"`
	MonitoringFinishedAt       time.Time `json:"monitoringFinishedAt,omitempty"`
}

// Participant is a person monitored by an intervention
type Participant struct {
	ID             string `json:"id"`
	InterventionID string `json:"interventionId"`
	Nickname       string `json:"nickname"`
	Language       string `json:"language"`
	Group          string `json:"group"`

	DialogOption           communication.DialogOption `json:"dialogOption"`
	SupervisorDialogOption communication.DialogOption `json:"supervisorDialogOption"`

	MonitoringActive bool `json:"monitoringActive"`
	ScreeningDone    bool `json:"screeningDone"`
	DataAvailable    bool `json:"dataAvailable"`

	DialogStatus                DialogStatus `json:"dialogStatus"`
	ConsecutiveDispatchFailures int          `json:"consecutiveDispatchFailures"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OptionFor returns the dialog option messages are delivered to
func (p *Participant) OptionFor(supervisor bool) communication.DialogOption {
	if supervisor {
		return p.SupervisorDialogOption
	}
	return p.DialogOption
}

// ComputedVariables returns the read-only participant variables
func (p *Participant) ComputedVariables(now time.Time) map[string]string {
	days := 0
	if started := p.DialogStatus.MonitoringStartedAt; !started.IsZero() && now.After(started) {
		days = int(now.Sub(started).Hours() / 24)
	}
	return map[string]string{
		variables.ParticipantParticipationInDays:  strconv.Itoa(days),
		variables.ParticipantParticipationInWeeks: strconv.Itoa(days / 7),
		variables.ParticipantName:                 p.Nickname,
		variables.ParticipantLanguage:             p.Language,
		variables.ParticipantGroup:                p.Group,
	}
}

// Eligible reports whether the participant takes part in monitoring: the
// intervention and its monitoring are active, the participant is active,
// screened, has its data and has not finished.
func Eligible(iv *Intervention, p *Participant) bool {
	return iv.Active && iv.MonitoringActive &&
		p.MonitoringActive && p.ScreeningDone && p.DataAvailable &&
		!p.DialogStatus.MonitoringFinished
}

// MonitoringMessage is one message template of a group
type MonitoringMessage struct {
	ID                           string       `json:"id"`
	Order                        int          `json:"order"`
	TextWithPlaceholders         string       `json:"textWithPlaceholders"`
	StoreValueToVariableWithName string       `json:"storeValueToVariableWithName,omitempty"`
	Rules                        []rules.Rule `json:"rules,omitempty"`
}

// MessageGroup is a set of interchangeable messages a rule can send
type MessageGroup struct {
	ID                               string              `json:"id"`
	InterventionID                   string              `json:"interventionId"`
	Name                             string              `json:"name"`
	ExpectsAnswer                    bool                `json:"expectsAnswer"`
	RandomOrder                      bool                `json:"randomOrder"`
	SendSamePositionIfSendingAsReply bool                `json:"sendSamePositionIfSendingAsReply"`
	ValidationExpression             string              `json:"validationExpression,omitempty"`
	Messages                         []MonitoringMessage `json:"messages"`
	CreatedAt                        time.Time           `json:"createdAt"`
}

// Message returns a message of the group and its position
func (g *MessageGroup) Message(id string) (*MonitoringMessage, int, bool) {
	for i := range g.Messages {
		if g.Messages[i].ID == id {
			return &g.Messages[i], i, true
		}
	}
	return nil, -1, false
}

// Validate matches a cleaned answer against the validation expression. When
// the expression has a capture group its first group becomes the answer.
func (g *MessageGroup) Validate(answer string) (string, bool) {
	if g.ValidationExpression == "" {
		return answer, true
	}
	re, err := compileValidation(g.ValidationExpression)
	if err != nil {
		return answer, false
	}
	m := re.FindStringSubmatch(answer)
	if m == nil {
		return answer, false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return answer, true
}

func compileValidation(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}

var dropFromAnswer = regexp.MustCompile(`[^a-z0-9\-\s.]`)

// CleanAnswer normalizes a received message for comparison and storage
func CleanAnswer(raw string) string {
	return strings.TrimSpace(dropFromAnswer.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), ""))
}

func validateMessageGroup(g *MessageGroup) error {
	if g.InterventionID == "" {
		return fmt.Errorf("message group %s has no intervention", g.ID)
	}
	if g.ValidationExpression != "" {
		if _, err := compileValidation(g.ValidationExpression); err != nil {
			return fmt.Errorf("message group %s has invalid validation expression: %w", g.ID, err)
		}
	}
	seen := make(map[string]bool, len(g.Messages))
	for i := range g.Messages {
		m := &g.Messages[i]
		if seen[m.ID] {
			return fmt.Errorf("message group %s contains message %s twice", g.ID, m.ID)
		}
		seen[m.ID] = true
		if m.StoreValueToVariableWithName != "" {
			if err := variables.ValidateWritable(m.StoreValueToVariableWithName); err != nil {
				return fmt.Errorf("message %s cannot store to %q: %w", m.ID, m.StoreValueToVariableWithName, err)
			}
		}
		for j := range m.Rules {
			if err := rules.ValidateRule(&m.Rules[j]); err != nil {
				return fmt.Errorf("message %s: %w", m.ID, err)
			}
		}
	}
	return nil
}
