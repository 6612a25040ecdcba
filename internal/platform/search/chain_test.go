package search

import "testing"

func newTestResolver() *ChainResolver {
	return NewChainResolver(DefaultRegistry(), testLog)
}

func TestChainResolver_Resolve(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name       string
		key        string
		source     string
		wantOK     bool
		wantTarget string
		wantPath   string
		wantField  string
	}{
		{
			name:       "patient chain on observation",
			key:        "patient.name",
			source:     "Observation",
			wantOK:     true,
			wantTarget: "Patient",
			wantPath:   "Observation.subject",
			wantField:  "subject.reference",
		},
		{
			name:       "explicit type hint",
			key:        "subject:Patient.name",
			source:     "Observation",
			wantOK:     true,
			wantTarget: "Patient",
			wantPath:   "Observation.subject",
			wantField:  "subject.reference",
		},
		{
			name:       "encounter chain",
			key:        "encounter.status",
			source:     "Condition",
			wantOK:     true,
			wantTarget: "Encounter",
			wantPath:   "Condition.encounter",
			wantField:  "encounter.reference",
		},
		{
			name:   "unknown chain field",
			key:    "owner.name",
			source: "Observation",
			wantOK: false,
		},
		{
			name:   "non-reference chain field",
			key:    "code.name",
			source: "Observation",
			wantOK: false,
		},
		{
			name:   "tail unknown on target",
			key:    "patient.favorite-color",
			source: "Observation",
			wantOK: false,
		},
		{
			name:   "not chained syntax",
			key:    "patient",
			source: "Observation",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, ok := r.Resolve(tt.key, "Smith", tt.source)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if chain.TargetType != tt.wantTarget {
				t.Errorf("TargetType = %q, want %q", chain.TargetType, tt.wantTarget)
			}
			if chain.CanonicalPath != tt.wantPath {
				t.Errorf("CanonicalPath = %q, want %q", chain.CanonicalPath, tt.wantPath)
			}
			if chain.FTSField != tt.wantField {
				t.Errorf("FTSField = %q, want %q", chain.FTSField, tt.wantField)
			}
			if chain.Value != "Smith" {
				t.Errorf("Value = %q, want Smith", chain.Value)
			}
		})
	}
}

// A resolved chain always carries a non-empty canonical path and a
// pointer field derived from it.
func TestChainResolver_ResolvedChainsAreComplete(t *testing.T) {
	r := newTestResolver()

	keys := []string{"patient.name", "subject.family", "encounter.status", "device.identifier"}
	for _, key := range keys {
		chain, ok := r.Resolve(key, "x", "Observation")
		if !ok {
			t.Errorf("expected %q to resolve on Observation", key)
			continue
		}
		if chain.CanonicalPath == "" {
			t.Errorf("%q resolved with empty canonical path", key)
		}
		if chain.FTSField == "" {
			t.Errorf("%q resolved with empty pointer field", key)
		}
		if chain.TargetType == "" {
			t.Errorf("%q resolved with empty target type", key)
		}
	}
}

func TestFTSFieldFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"Observation.subject", "subject.reference"},
		{"Encounter.participant.individual", "participant.individual.reference"},
		{"subject", "subject.reference"},
	}

	for _, tt := range tests {
		if got := ftsFieldFromPath(tt.path); got != tt.want {
			t.Errorf("ftsFieldFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
