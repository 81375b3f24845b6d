package rules

import "testing"

func TestSubstituteText(t *testing.T) {
	vars := Variables{
		"$name":  "Anna",
		"$a":     "1",
		"$ab":    "2",
		"$score": "3.14159",
		"$huge":  "1e300",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single", "Hello $name", "Hello Anna"},
		{"missing becomes empty", "Hello $unknown!", "Hello !"},
		{"longest name wins", "$ab-$a", "2-1"},
		{"lone dollar kept", "costs 5 $ today", "costs 5 $ today"},
		{"numeric format", "$score{%.2f}", "3.14"},
		{"format on text ignored", "$name{%.2f}", "Anna"},
		{"unknown modifier ignored", "$name{#d}", "Anna"},
		{"flags and width", "[$score{%6.1f}]", "[   3.1]"},
		{"exponent format", "$huge{%.1e}", "1.0e+300"},
		{"integer verb ignored", "$huge{%d}", "1e300"},
		{"several verbs ignored", "$score{%.2f %d}", "3.14159"},
		{"text around verb ignored", "$score{x%.2f}", "3.14159"},
		{"verb with extra text ignored", "$score{%.2f%%}", "3.14159"},
		{"string verb ignored", "$score{%s}", "3.14159"},
		{"no placeholders", "plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubstituteText(tt.in, vars); got != tt.want {
				t.Errorf("SubstituteText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubstituteCalculated(t *testing.T) {
	vars := Variables{
		"$a":     "10",
		"$empty": "",
		"$list":  "3,5,1",
		"$neg":   "-2",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"5+$a", "5+(10)"},
		{"$missing*2", "(0)*2"},
		{"$empty+1", "(0)+1"},
		{"first($list)", "first(3,5,1)"},
		{"$a^$neg", "(10)^(-2)"},
	}

	for _, tt := range tests {
		if got := SubstituteCalculated(tt.in, vars); got != tt.want {
			t.Errorf("SubstituteCalculated(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		15:    "15",
		2.5:   "2.5",
		-3:    "-3",
		0:     "0",
		1e10:  "10000000000",
		0.125: "0.125",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}
