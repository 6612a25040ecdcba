package search

import "testing"

func TestIsControlParam(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"_count", true},
		{"_sort", true},
		{"_revinclude", true},
		{"_has:Observation:subject:code", true},
		{"name", false},
		{"birthdate", false},
	}

	for _, tt := range tests {
		if got := IsControlParam(tt.key); got != tt.want {
			t.Errorf("IsControlParam(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestParseChainSyntax(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantOK    bool
		wantField string
		wantHint  string
		wantTail  string
	}{
		{"plain chain", "patient.name", true, "patient", "", "name"},
		{"typed chain", "subject:Patient.name", true, "subject", "Patient", "name"},
		{"nested tail", "patient.organization.name", true, "patient", "", "organization.name"},
		{"no dot", "patient", false, "", "", ""},
		{"empty tail", "patient.", false, "", "", ""},
		{"empty head", ".name", false, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, ok := ParseChainSyntax(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ParseChainSyntax(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if parts.ChainField != tt.wantField {
				t.Errorf("ChainField = %q, want %q", parts.ChainField, tt.wantField)
			}
			if parts.TypeHint != tt.wantHint {
				t.Errorf("TypeHint = %q, want %q", parts.TypeHint, tt.wantHint)
			}
			if parts.TailParam != tt.wantTail {
				t.Errorf("TailParam = %q, want %q", parts.TailParam, tt.wantTail)
			}
		})
	}
}

func TestSplitModifier(t *testing.T) {
	tests := []struct {
		key          string
		wantBase     string
		wantModifier string
	}{
		{"name:exact", "name", "exact"},
		{"name:contains", "name", "contains"},
		{"name", "name", ""},
	}

	for _, tt := range tests {
		base, modifier := SplitModifier(tt.key)
		if base != tt.wantBase || modifier != tt.wantModifier {
			t.Errorf("SplitModifier(%q) = (%q, %q), want (%q, %q)",
				tt.key, base, modifier, tt.wantBase, tt.wantModifier)
		}
	}
}

func TestParseHasParam(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		wantOK bool
	}{
		{"well formed", "_has:Observation:subject:code", true},
		{"two segments", "_has:Observation:subject", false},
		{"four segments", "_has:Observation:subject:code:extra", false},
		{"empty segment", "_has:Observation::code", false},
		{"no prefix", "Observation:subject:code", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			has, ok := ParseHasParam(tt.key, "1234-5")
			if ok != tt.wantOK {
				t.Fatalf("ParseHasParam(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if has.TargetResource != "Observation" {
				t.Errorf("TargetResource = %q, want Observation", has.TargetResource)
			}
			if has.ReferenceField != "subject" {
				t.Errorf("ReferenceField = %q, want subject", has.ReferenceField)
			}
			if has.CriteriaParam != "code" {
				t.Errorf("CriteriaParam = %q, want code", has.CriteriaParam)
			}
			if has.CriteriaValue != "1234-5" {
				t.Errorf("CriteriaValue = %q, want 1234-5", has.CriteriaValue)
			}
		})
	}
}

func TestParseInclude(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantOK    bool
		wantType  string
		wantParam string
	}{
		{"well formed", "Observation:subject", true, "Observation", "subject"},
		{"surrounding space trimmed", " MedicationRequest:medication ", true, "MedicationRequest", "medication"},
		{"missing param", "Observation:", false, "", ""},
		{"missing type", ":subject", false, "", ""},
		{"no colon", "Observation", false, "", ""},
		{"empty", "", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc, ok := ParseInclude(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ParseInclude(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if inc.ResourceType != tt.wantType {
				t.Errorf("ResourceType = %q, want %q", inc.ResourceType, tt.wantType)
			}
			if inc.SearchParam != tt.wantParam {
				t.Errorf("SearchParam = %q, want %q", inc.SearchParam, tt.wantParam)
			}
		})
	}
}

func TestParseRevInclude(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantOK    bool
		wantType  string
		wantParam string
	}{
		{"well formed", "Observation:subject", true, "Observation", "subject"},
		{"param with colon kept whole", "Observation:subject:x", true, "Observation", "subject:x"},
		{"missing param", "Observation:", false, "", ""},
		{"missing type", ":subject", false, "", ""},
		{"no colon", "Observation", false, "", ""},
		{"empty", "", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ri, ok := ParseRevInclude(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ParseRevInclude(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ri.ResourceType != tt.wantType {
				t.Errorf("ResourceType = %q, want %q", ri.ResourceType, tt.wantType)
			}
			if ri.SearchParam != tt.wantParam {
				t.Errorf("SearchParam = %q, want %q", ri.SearchParam, tt.wantParam)
			}
		})
	}
}
