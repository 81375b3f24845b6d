package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"Info", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"WARNING", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(LevelError)
	if GetLevel() != LevelError {
		t.Errorf("GetLevel() = %v, want %v", GetLevel(), LevelError)
	}
}

func TestSampling(t *testing.T) {
	defer SetSampleRate(1)

	SetSampleRate(0)
	for i := 0; i < 10; i++ {
		if !shouldSample() {
			t.Fatal("a rate below one should log everything")
		}
	}
}

func TestErrorPhaseIsNeverSampled(t *testing.T) {
	defer SetSampleRate(1)
	SetSampleRate(1_000_000)

	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	before := PhaseFailures.Load()

	ErrorPhase(l, "monitoring", "react_unanswered", errors.New("boom"))

	if PhaseFailures.Load() != before+1 {
		t.Error("PhaseFailures was not incremented")
	}
	out := buf.String()
	for _, want := range []string{`"phase":"react_unanswered"`, `"worker":"monitoring"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s does not contain %s", out, want)
		}
	}
}

func TestCountersAlwaysIncrement(t *testing.T) {
	defer SetSampleRate(1)
	SetSampleRate(1_000_000)

	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	before := Counters()
	WarnDispatch(l, "m1", errors.New("gateway down"))
	WarnUnknownSender(l, "+4199")
	CountEvaluationFailures(3)
	after := Counters()

	if after["dispatch_failures"] != before["dispatch_failures"]+1 {
		t.Error("dispatch_failures was not incremented")
	}
	if after["unknown_senders"] != before["unknown_senders"]+1 {
		t.Error("unknown_senders was not incremented")
	}
	if after["evaluation_failures"] != before["evaluation_failures"]+3 {
		t.Error("evaluation_failures was not incremented by 3")
	}
	if after["warnings"] != before["warnings"]+2 {
		t.Errorf("warnings grew by %d, want 2", after["warnings"]-before["warnings"])
	}
}
