package search

import (
	"strings"

	"github.com/rs/zerolog"
)

// ChainParam is the immutable result of resolving one chained search
// parameter against the metadata registry.
//
// "patient.name=Smith" on Observation resolves to:
//
//	ChainField="patient", TailParam="name", Value="Smith",
//	TargetType="Patient", CanonicalPath="Observation.subject",
//	FTSField="subject.reference"
type ChainParam struct {
	Original      string // original parameter key
	ChainField    string // reference parameter on the source resource
	TypeHint      string // explicit target type, empty when inferred
	TailParam     string // parameter applied on the target resource
	Value         string
	TargetType    string // resolved target resource type
	CanonicalPath string // "ResourceType.fieldName"
	FTSField      string // searchable nested pointer field, "<field>.reference"
}

// referenceTargets maps common reference field names to their resource
// types. This is a known approximation used only when no explicit type
// hint is given; unmatched fields fall back to capitalization.
var referenceTargets = map[string]string{
	"patient":      "Patient",
	"subject":      "Patient",
	"practitioner": "Practitioner",
	"performer":    "Practitioner",
	"organization": "Organization",
	"encounter":    "Encounter",
	"location":     "Location",
	"device":       "Device",
}

// ChainResolver resolves chained parameters into fully-qualified
// ChainParam values.
type ChainResolver struct {
	registry MetadataRegistry
	log      zerolog.Logger
}

// NewChainResolver creates a ChainResolver backed by the registry.
func NewChainResolver(registry MetadataRegistry, log zerolog.Logger) *ChainResolver {
	return &ChainResolver{registry: registry, log: log}
}

// Resolve parses and resolves one chained parameter. Resolution
// failures return (nil, false) and are logged, not raised: the caller
// omits the parameter from the query plan. Hard errors for malformed
// chains are the validator's responsibility.
func (r *ChainResolver) Resolve(key, value, sourceResourceType string) (*ChainParam, bool) {
	parts, ok := ParseChainSyntax(key)
	if !ok {
		return nil, false
	}

	info, found := r.registry.Param(sourceResourceType, parts.ChainField)
	if !found {
		r.log.Warn().Str("chain_field", parts.ChainField).Str("resource_type", sourceResourceType).
			Msg("chain field does not exist on resource type")
		return nil, false
	}
	if !info.IsReference() {
		r.log.Warn().Str("chain_field", parts.ChainField).Str("resource_type", sourceResourceType).
			Msg("chain field is not a reference parameter")
		return nil, false
	}
	if info.Path == "" {
		r.log.Warn().Str("chain_field", parts.ChainField).Str("resource_type", sourceResourceType).
			Msg("no canonical path for reference parameter")
		return nil, false
	}

	targetType := r.targetTypeFor(parts.ChainField, parts.TypeHint)

	if _, found := r.registry.Param(targetType, parts.TailParam); !found {
		r.log.Warn().Str("tail_param", parts.TailParam).Str("target_type", targetType).
			Msg("tail parameter does not exist on target resource type")
		return nil, false
	}

	resolved := &ChainParam{
		Original:      key,
		ChainField:    parts.ChainField,
		TypeHint:      parts.TypeHint,
		TailParam:     parts.TailParam,
		Value:         value,
		TargetType:    targetType,
		CanonicalPath: info.Path,
		FTSField:      ftsFieldFromPath(info.Path),
	}

	r.log.Debug().Str("key", key).Str("canonical", resolved.CanonicalPath).
		Str("target", resolved.TargetType).Str("fts_field", resolved.FTSField).
		Msg("resolved chain parameter")

	return resolved, true
}

// targetTypeFor determines the target resource type: explicit hint
// first, then the finite reference-name table, then capitalization of
// the field name as a last resort (logged as a guess).
func (r *ChainResolver) targetTypeFor(chainField, typeHint string) string {
	if typeHint != "" {
		return typeHint
	}
	if target, ok := referenceTargets[strings.ToLower(chainField)]; ok {
		return target
	}

	guess := strings.ToUpper(chainField[:1]) + chainField[1:]
	r.log.Warn().Str("chain_field", chainField).Str("guess", guess).
		Msg("no confident target type for chain field, capitalizing field name")
	return guess
}

// ftsFieldFromPath derives the searchable pointer field from a
// canonical path: "Observation.subject" -> "subject.reference".
func ftsFieldFromPath(canonicalPath string) string {
	parts := strings.Split(canonicalPath, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[1:], ".") + ".reference"
	}
	return parts[len(parts)-1] + ".reference"
}
