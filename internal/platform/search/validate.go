package search

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// prefixPattern matches the comparison prefixes a date or number value
// may carry.
var prefixPattern = regexp.MustCompile(`^(eq|ne|gt|lt|ge|le|sa|eb|ap)(.+)$`)

// Token fields that only accept a single value per search.
var singleValueTokenParams = map[string]struct{}{
	"gender":   {},
	"active":   {},
	"deceased": {},
}

// Validator rejects unknown parameters, malformed values and logically
// conflicting multi-value combinations before any query executes.
type Validator struct {
	registry MetadataRegistry
	log      zerolog.Logger
}

// NewValidator creates a Validator backed by the given registry.
func NewValidator(registry MetadataRegistry, log zerolog.Logger) *Validator {
	return &Validator{registry: registry, log: log}
}

// Validate checks all parameters for one search and returns a
// *ValidationError for the first offending parameter, or nil. It is a
// pure gate: it produces no output on success.
func (v *Validator) Validate(resourceType string, params url.Values) error {
	if err := v.checkExistence(resourceType, params); err != nil {
		return err
	}
	if err := v.checkFormats(resourceType, params); err != nil {
		return err
	}
	return v.checkConsistency(resourceType, params)
}

func (v *Validator) checkExistence(resourceType string, params url.Values) error {
	for key := range params {
		if IsControlParam(key) || IsFrameworkParam(key) {
			continue
		}

		if IsChainedKey(key) {
			parts, ok := ParseChainSyntax(key)
			if !ok {
				return &ValidationError{Param: key, Code: CodeInvalidFormat,
					Message: "malformed chained parameter"}
			}
			info, found := v.registry.Param(resourceType, parts.ChainField)
			if !found {
				return &ValidationError{Param: parts.ChainField, Code: CodeUnknownChainField,
					Message: fmt.Sprintf("unknown chain field %q for resource type %s", parts.ChainField, resourceType)}
			}
			if !info.IsReference() {
				return &ValidationError{Param: parts.ChainField, Code: CodeNotReference,
					Message: fmt.Sprintf("chain field %q is not a reference parameter on %s", parts.ChainField, resourceType)}
			}
			continue
		}

		base, _ := SplitModifier(key)
		if _, found := v.registry.Param(resourceType, base); !found {
			return &ValidationError{Param: base, Code: CodeUnknownParam,
				Message: fmt.Sprintf("unknown parameter %q for resource type %s", base, resourceType)}
		}
	}
	return nil
}

func (v *Validator) checkFormats(resourceType string, params url.Values) error {
	for key, values := range params {
		if IsControlParam(key) || IsFrameworkParam(key) || IsChainedKey(key) {
			continue
		}

		base, _ := SplitModifier(key)
		info, found := v.registry.Param(resourceType, base)
		if !found {
			continue
		}

		for _, value := range values {
			if err := validateFormat(info.Type, value); err != nil {
				return &ValidationError{Param: key, Code: CodeInvalidFormat, Message: err.Error()}
			}
		}
	}
	return nil
}

func (v *Validator) checkConsistency(resourceType string, params url.Values) error {
	for key, values := range params {
		if IsControlParam(key) || IsFrameworkParam(key) || IsChainedKey(key) {
			continue
		}
		if len(values) < 2 {
			continue
		}

		base, _ := SplitModifier(key)
		info, found := v.registry.Param(resourceType, base)
		if !found {
			continue
		}

		switch info.Type {
		case ParamTypeDate, ParamTypeNumber:
			if err := checkComparableValues(key, values); err != nil {
				return err
			}
		case ParamTypeToken:
			if _, single := singleValueTokenParams[base]; single {
				return &ValidationError{Param: key, Code: CodeMultipleValues,
					Message: fmt.Sprintf("parameter %q accepts only a single value", base)}
			}
			// Repeated token values are OR logic, accepted.
		}
	}
	return nil
}

// checkComparableValues enforces the multi-value rules for dates and
// numbers: a field cannot equal two literals at once, and mixing an
// implicit-equality value with prefixed values is contradictory.
// Multiple prefixed values express a range and pass.
func checkComparableValues(param string, values []string) error {
	var implicit, prefixed int
	for _, value := range values {
		if HasComparisonPrefix(value) {
			prefixed++
		} else {
			implicit++
		}
	}

	if implicit > 1 {
		return &ValidationError{Param: param, Code: CodeConflictingValues,
			Message: "multiple values without comparison prefixes; use prefixes like ge and le to express a range"}
	}
	if implicit > 0 && prefixed > 0 {
		return &ValidationError{Param: param, Code: CodeConflictingValues,
			Message: "cannot mix values with and without comparison prefixes"}
	}
	return nil
}

// HasComparisonPrefix reports whether the value carries an explicit
// two-letter comparison prefix (eq, ne, gt, lt, ge, le, sa, eb, ap).
func HasComparisonPrefix(value string) bool {
	return prefixPattern.MatchString(value)
}

// SplitComparisonPrefix splits a value into its comparison prefix and
// literal. Values without a prefix return prefix "" (implicit
// equality).
func SplitComparisonPrefix(value string) (prefix, literal string) {
	if m := prefixPattern.FindStringSubmatch(value); m != nil {
		return m[1], m[2]
	}
	return "", value
}

func validateFormat(t ParamType, value string) error {
	switch t {
	case ParamTypeDate:
		return validateDate(value)
	case ParamTypeNumber:
		return validateNumber(value)
	case ParamTypeToken:
		return validateToken(value)
	case ParamTypeReference:
		return validateReference(value)
	case ParamTypeString:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("empty string value")
		}
	}
	// Other types are more flexible.
	return nil
}

func validateDate(value string) error {
	_, literal := SplitComparisonPrefix(value)
	if len(literal) == 10 {
		if _, err := time.Parse("2006-01-02", literal); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", literal)
		}
		return nil
	}
	if _, err := time.Parse(time.RFC3339, literal); err != nil {
		return fmt.Errorf("invalid timestamp %q: expected YYYY-MM-DD or RFC3339 datetime", literal)
	}
	return nil
}

func validateNumber(value string) error {
	_, literal := SplitComparisonPrefix(value)
	if _, err := strconv.ParseFloat(literal, 64); err != nil {
		return fmt.Errorf("invalid number %q", literal)
	}
	return nil
}

func validateToken(value string) error {
	if !strings.Contains(value, "|") {
		return nil
	}
	parts := strings.SplitN(value, "|", 2)
	if strings.TrimSpace(parts[0]) == "" && strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("invalid token %q: expected code or system|code", value)
	}
	return nil
}

func validateReference(value string) error {
	if !strings.Contains(value, "/") {
		return nil
	}
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("invalid reference %q: expected Type/id", value)
	}
	return nil
}
