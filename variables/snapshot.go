package variables

import (
	"context"
	"fmt"
	"time"
)

// Snapshot collects every variable visible to rule evaluation for one
// participant. Later layers override earlier ones: computed system values,
// stored system variables, supervisor variables, participant variables and
// finally the computed participant values passed in by the caller.
func Snapshot(ctx context.Context, store Store, participantID string, now time.Time, computed map[string]string) (map[string]string, error) {
	out := SystemValues(now)

	for _, scope := range []Scope{System(), Supervisor(participantID), Participant(participantID)} {
		vars, err := store.List(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s variables: %w", scope, err)
		}
		for _, v := range vars {
			out[v.Name] = v.Value
		}
	}

	for name, value := range computed {
		out[name] = value
	}
	return out, nil
}
