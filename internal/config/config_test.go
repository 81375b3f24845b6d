package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("FromLookup() failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MonitoringInterval != 300*time.Second {
		t.Errorf("MonitoringInterval = %s, want 5m", cfg.MonitoringInterval)
	}
	if len(cfg.StopWords) != 2 || cfg.StopWords[0] != "stop" {
		t.Errorf("StopWords = %v, want [stop stopp]", cfg.StopWords)
	}
	if !cfg.VariableHistory {
		t.Error("VariableHistory should default to true")
	}
}

func TestFromLookup(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"PORT":                              "9090",
		"DATABASE_URL":                      "postgres://localhost/interventions",
		"INCOMING_INTERVAL":                 "15",
		"OUTGOING_INTERVAL":                 "1m30s",
		"STATISTICS_ENABLED":                "true",
		"MAX_CONSECUTIVE_DISPATCH_FAILURES": "5",
		"DISPATCH_RATE_PER_SECOND":          "2.5",
		"STOP_WORDS":                        " Halt, QUIT ,,",
		"VARIABLE_HISTORY":                  "false",
	}))
	if err != nil {
		t.Fatalf("FromLookup() failed: %v", err)
	}

	if cfg.Port != "9090" || cfg.DatabaseURL == "" {
		t.Errorf("unexpected connection settings: %+v", cfg)
	}
	if cfg.IncomingInterval != 15*time.Second {
		t.Errorf("IncomingInterval = %s, want 15s", cfg.IncomingInterval)
	}
	if cfg.OutgoingInterval != 90*time.Second {
		t.Errorf("OutgoingInterval = %s, want 1m30s", cfg.OutgoingInterval)
	}
	if !cfg.StatisticsEnabled || cfg.MaxConsecutiveDispatchFailures != 5 || cfg.DispatchRatePerSecond != 2.5 {
		t.Errorf("unexpected worker settings: %+v", cfg)
	}
	if len(cfg.StopWords) != 2 || cfg.StopWords[0] != "halt" || cfg.StopWords[1] != "quit" {
		t.Errorf("StopWords = %v, want [halt quit]", cfg.StopWords)
	}
	if cfg.VariableHistory {
		t.Error("VariableHistory should be false")
	}
}

func TestSimulatorShortensIntervals(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"SIMULATOR_ACTIVE":  "true",
		"INCOMING_INTERVAL": "5s",
	}))
	if err != nil {
		t.Fatalf("FromLookup() failed: %v", err)
	}
	if cfg.IncomingInterval != 5*time.Second {
		t.Errorf("explicit IncomingInterval = %s, want 5s", cfg.IncomingInterval)
	}
	if cfg.OutgoingInterval != 30*time.Second || cfg.MonitoringInterval != 60*time.Second {
		t.Errorf("simulator intervals = %s/%s, want 30s/1m", cfg.OutgoingInterval, cfg.MonitoringInterval)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad bool", map[string]string{"STATISTICS_ENABLED": "maybe"}},
		{"bad int", map[string]string{"MAX_MESSAGES_PER_CYCLE": "many"}},
		{"bad duration", map[string]string{"MONITORING_INTERVAL": "soon"}},
		{"zero interval", map[string]string{"OUTGOING_INTERVAL": "0"}},
		{"zero failures", map[string]string{"MAX_CONSECUTIVE_DISPATCH_FAILURES": "0"}},
		{"hours out of range", map[string]string{"DEFAULT_HOURS_UNTIL_UNANSWERED": "97"}},
		{"negative rate", map[string]string{"DISPATCH_RATE_PER_SECOND": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromLookup(lookupFrom(tt.env)); err == nil {
				t.Error("FromLookup() should fail")
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MAX_MESSAGES_PER_CYCLE=7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_MESSAGES_PER_CYCLE", "")
	os.Unsetenv("MAX_MESSAGES_PER_CYCLE")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MaxMessagesPerCycle != 7 {
		t.Errorf("MaxMessagesPerCycle = %d, want 7", cfg.MaxMessagesPerCycle)
	}
}
