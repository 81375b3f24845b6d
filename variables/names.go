package variables

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Computed system variables, refreshed on every snapshot
const (
	SystemDayInWeek  = "$systemDayInWeek"
	SystemDayOfMonth = "$systemDayOfMonth"
	SystemMonth      = "$systemMonth"
	SystemYear       = "$systemYear"
	SystemHourOfDay  = "$systemHourOfDay"
	SystemDateIndex  = "$systemDateIndex"
)

// Computed participant variables, supplied by the coordinator
const (
	ParticipantParticipationInDays  = "$participantParticipationInDays"
	ParticipantParticipationInWeeks = "$participantParticipationInWeeks"
	ParticipantName                 = "$participantName"
	ParticipantLanguage             = "$participantLanguage"
	ParticipantGroup                = "$participantGroup"
)

// ParticipantMessageReply always holds the latest cleaned answer of a participant
const ParticipantMessageReply = "$participantMessageReply"

var namePattern = regexp.MustCompile(`^\$[a-zA-Z0-9_]+$`)

var readOnly = map[string]bool{
	SystemDayInWeek:                 true,
	SystemDayOfMonth:                true,
	SystemMonth:                     true,
	SystemYear:                      true,
	SystemHourOfDay:                 true,
	SystemDateIndex:                 true,
	ParticipantParticipationInDays:  true,
	ParticipantParticipationInWeeks: true,
	ParticipantName:                 true,
	ParticipantLanguage:             true,
	ParticipantGroup:                true,
}

// ValidateName checks the $name syntax
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, namePattern.String())
	}
	return nil
}

// IsReadOnly reports whether the name is computed and cannot be written
func IsReadOnly(name string) bool {
	return readOnly[name]
}

// ValidateWritable checks the name syntax and rejects computed names
func ValidateWritable(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if IsReadOnly(name) {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	return nil
}

// DateIndex returns the locale independent day key used for once-per-day work
func DateIndex(t time.Time) string {
	return t.Format("2006-01-02")
}

// SystemValues returns the computed system variables for the given instant
func SystemValues(now time.Time) map[string]string {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return map[string]string{
		SystemDayInWeek:  strconv.Itoa(weekday),
		SystemDayOfMonth: strconv.Itoa(now.Day()),
		SystemMonth:      strconv.Itoa(int(now.Month())),
		SystemYear:       strconv.Itoa(now.Year()),
		SystemHourOfDay:  strconv.Itoa(now.Hour()),
		SystemDateIndex:  DateIndex(now),
	}
}
