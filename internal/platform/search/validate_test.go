package search

import (
	"errors"
	"net/url"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

var testLog = zerolog.New(os.Stderr).Level(zerolog.Disabled)

func newTestValidator() *Validator {
	return NewValidator(DefaultRegistry(), testLog)
}

func TestValidate_Existence(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name     string
		params   url.Values
		wantCode string
	}{
		{"known parameter", url.Values{"gender": {"female"}}, ""},
		{"unknown parameter", url.Values{"favorite-color": {"blue"}}, CodeUnknownParam},
		{"control params skipped", url.Values{"_count": {"10"}, "_sort": {"-birthdate"}}, ""},
		{"framework params skipped", url.Values{"connectionName": {"primary"}}, ""},
		{"modifier stripped for lookup", url.Values{"name:exact": {"Smith"}}, ""},
		{"unknown chain field", url.Values{"owner.name": {"Smith"}}, CodeUnknownChainField},
		{"chain through non-reference", url.Values{"gender.name": {"x"}}, CodeNotReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("Patient", tt.params)
			checkValidation(t, err, tt.wantCode)
		})
	}
}

func TestValidate_Formats(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name         string
		resourceType string
		params       url.Values
		wantCode     string
	}{
		{"valid date", "Patient", url.Values{"birthdate": {"1990-05-01"}}, ""},
		{"valid prefixed date", "Patient", url.Values{"birthdate": {"ge1990-05-01"}}, ""},
		{"valid timestamp", "Observation", url.Values{"date": {"2024-01-15T10:30:00Z"}}, ""},
		{"garbage date", "Patient", url.Values{"birthdate": {"not-a-date"}}, CodeInvalidFormat},
		{"bad month", "Patient", url.Values{"birthdate": {"1990-13-01"}}, CodeInvalidFormat},
		{"valid number", "Observation", url.Values{"value-quantity": {"gt5.4"}}, ""},
		{"garbage number", "Observation", url.Values{"value-quantity": {"gtx"}}, CodeInvalidFormat},
		{"token code", "Observation", url.Values{"code": {"1234-5"}}, ""},
		{"token system|code", "Observation", url.Values{"code": {"http://loinc.org|1234-5"}}, ""},
		{"token bare pipe", "Observation", url.Values{"code": {"|"}}, CodeInvalidFormat},
		{"reference type and id", "Observation", url.Values{"subject": {"Patient/123"}}, ""},
		{"reference bare id", "Observation", url.Values{"subject": {"123"}}, ""},
		{"reference trailing slash", "Observation", url.Values{"subject": {"Patient/"}}, CodeInvalidFormat},
		{"empty string value", "Patient", url.Values{"name": {"  "}}, CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.resourceType, tt.params)
			checkValidation(t, err, tt.wantCode)
		})
	}
}

func TestValidate_MultiValueConsistency(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name     string
		params   url.Values
		wantCode string
	}{
		{"two implicit dates conflict", url.Values{"birthdate": {"1990-01-01", "1991-01-01"}}, CodeConflictingValues},
		{"range with prefixes passes", url.Values{"birthdate": {"ge1990-01-01", "le1995-12-31"}}, ""},
		{"implicit mixed with prefixed conflicts", url.Values{"birthdate": {"1990-01-01", "le1995-12-31"}}, CodeConflictingValues},
		{"single implicit passes", url.Values{"birthdate": {"1990-01-01"}}, ""},
		{"repeated gender rejected", url.Values{"gender": {"male", "female"}}, CodeMultipleValues},
		{"repeated identifier is OR logic", url.Values{"identifier": {"mrn-1", "mrn-2"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("Patient", tt.params)
			checkValidation(t, err, tt.wantCode)
		})
	}
}

func checkValidation(t *testing.T, err error, wantCode string) {
	t.Helper()
	if wantCode == "" {
		if err != nil {
			t.Fatalf("expected valid, got %v", err)
		}
		return
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Code != wantCode {
		t.Errorf("expected code %s, got %s (%s)", wantCode, ve.Code, ve.Message)
	}
}

func TestSplitComparisonPrefix(t *testing.T) {
	tests := []struct {
		value       string
		wantPrefix  string
		wantLiteral string
	}{
		{"ge1990-01-01", "ge", "1990-01-01"},
		{"ne5.4", "ne", "5.4"},
		{"1990-01-01", "", "1990-01-01"},
		{"le", "", "le"}, // prefix with no literal is not a prefix
	}

	for _, tt := range tests {
		prefix, literal := SplitComparisonPrefix(tt.value)
		if prefix != tt.wantPrefix || literal != tt.wantLiteral {
			t.Errorf("SplitComparisonPrefix(%q) = (%q, %q), want (%q, %q)",
				tt.value, prefix, literal, tt.wantPrefix, tt.wantLiteral)
		}
	}
}
