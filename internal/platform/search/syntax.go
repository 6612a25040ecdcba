package search

import "strings"

// Parameter-key syntax helpers. These are pure string operations; all
// metadata lookups happen in the validator and resolvers.

const hasPrefix = "_has:"

// Framework parameters are connection/tenant selectors that never
// reach the query engines.
var frameworkParams = map[string]struct{}{
	"connectionName": {},
	"bucketName":     {},
}

// IsControlParam reports whether the key is a control parameter
// (reserved "_" prefix, e.g. _count, _sort, _revinclude).
func IsControlParam(key string) bool {
	return strings.HasPrefix(key, "_")
}

// IsFrameworkParam reports whether the key is a framework-only
// parameter that carries no search semantics.
func IsFrameworkParam(key string) bool {
	_, ok := frameworkParams[key]
	return ok
}

// IsChainedKey reports whether the key uses chained syntax
// ("ref.field" or "ref:Type.field").
func IsChainedKey(key string) bool {
	return strings.Contains(key, ".")
}

// SplitModifier splits a parameter key into its base name and optional
// modifier ("name:exact" -> "name", "exact").
func SplitModifier(key string) (base, modifier string) {
	if idx := strings.Index(key, ":"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

// ChainParts is the structural decomposition of a chained parameter
// key, before any metadata resolution.
type ChainParts struct {
	ChainField string // reference parameter on the source resource
	TypeHint   string // explicit target type, empty when absent
	TailParam  string // parameter applied on the target resource
}

// ParseChainSyntax splits a chained key at its first dot.
// "patient.name" -> {patient, "", name}; "subject:Patient.name" ->
// {subject, Patient, name}. Returns false for keys without a dot or
// with an empty tail.
func ParseChainSyntax(key string) (ChainParts, bool) {
	dotIdx := strings.Index(key, ".")
	if dotIdx < 0 {
		return ChainParts{}, false
	}

	chainPart := key[:dotIdx]
	tail := key[dotIdx+1:]
	if chainPart == "" || tail == "" {
		return ChainParts{}, false
	}

	parts := ChainParts{ChainField: chainPart, TailParam: tail}
	if colonIdx := strings.Index(chainPart, ":"); colonIdx >= 0 {
		parts.ChainField = chainPart[:colonIdx]
		parts.TypeHint = chainPart[colonIdx+1:]
	}
	return parts, true
}

// HasParam is a parsed reverse-chain (_has) parameter.
// "_has:Observation:subject:code=1234" filters the primary resources
// to those referenced by an Observation whose code is 1234.
type HasParam struct {
	TargetResource string // resource type holding the back-reference
	ReferenceField string // reference parameter on the target pointing at the primary
	CriteriaParam  string // parameter filtered on the target
	CriteriaValue  string
}

// ParseHasParam parses a _has parameter key and its value. The key
// must split into exactly three colon-delimited segments after the
// "_has:" prefix; anything else returns false and the parameter is
// ignored by callers.
func ParseHasParam(key, value string) (*HasParam, bool) {
	if !strings.HasPrefix(key, hasPrefix) {
		return nil, false
	}

	parts := strings.Split(strings.TrimPrefix(key, hasPrefix), ":")
	if len(parts) != 3 {
		return nil, false
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}

	return &HasParam{
		TargetResource: parts[0],
		ReferenceField: parts[1],
		CriteriaParam:  parts[2],
		CriteriaValue:  value,
	}, true
}

// RevIncludeParam is a parsed _revinclude directive.
// "Observation:subject" means: additionally fetch Observations whose
// subject references a primary search result.
type RevIncludeParam struct {
	ResourceType string
	SearchParam  string
}

// ParseRevInclude parses a _revinclude value by splitting on the first
// colon. Both sides must be non-empty; otherwise returns false.
func ParseRevInclude(value string) (*RevIncludeParam, bool) {
	resourceType, searchParam, ok := splitIncludeDirective(value)
	if !ok {
		return nil, false
	}
	return &RevIncludeParam{ResourceType: resourceType, SearchParam: searchParam}, true
}

// IncludeParam is a parsed _include directive.
// "Observation:subject" means: additionally fetch the resource each
// matched Observation's subject field points at.
type IncludeParam struct {
	ResourceType string
	SearchParam  string
}

// ParseInclude parses an _include value. Same shape as _revinclude:
// "Type:param", split on the first colon.
func ParseInclude(value string) (*IncludeParam, bool) {
	resourceType, searchParam, ok := splitIncludeDirective(value)
	if !ok {
		return nil, false
	}
	return &IncludeParam{ResourceType: resourceType, SearchParam: searchParam}, true
}

func splitIncludeDirective(value string) (resourceType, searchParam string, ok bool) {
	trimmed := strings.TrimSpace(value)
	colonIdx := strings.Index(trimmed, ":")
	if colonIdx <= 0 || colonIdx == len(trimmed)-1 {
		return "", "", false
	}

	resourceType = strings.TrimSpace(trimmed[:colonIdx])
	searchParam = strings.TrimSpace(trimmed[colonIdx+1:])
	if resourceType == "" || searchParam == "" {
		return "", "", false
	}
	return resourceType, searchParam, true
}
