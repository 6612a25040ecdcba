package search

import (
	"sort"
	"sync"
)

// ParamType classifies a search parameter's declared value type.
type ParamType int

const (
	// ParamTypeOther covers uri, composite, quantity and special parameters.
	ParamTypeOther ParamType = iota
	// ParamTypeDate accepts calendar dates or timestamps with comparison prefixes.
	ParamTypeDate
	// ParamTypeNumber accepts decimals with comparison prefixes.
	ParamTypeNumber
	// ParamTypeToken accepts code, system|code, |code or system| values.
	ParamTypeToken
	// ParamTypeReference accepts Type/id or bare id values.
	ParamTypeReference
	// ParamTypeString accepts non-empty free text.
	ParamTypeString
)

func (t ParamType) String() string {
	switch t {
	case ParamTypeDate:
		return "date"
	case ParamTypeNumber:
		return "number"
	case ParamTypeToken:
		return "token"
	case ParamTypeReference:
		return "reference"
	case ParamTypeString:
		return "string"
	default:
		return "other"
	}
}

// ParamInfo is the declared metadata for one search parameter on one
// resource type.
type ParamInfo struct {
	Type ParamType
	// Path is the canonical field path, "ResourceType.fieldName".
	Path string
}

// IsReference reports whether the parameter is reference-typed and can
// therefore anchor a chained search.
func (p ParamInfo) IsReference() bool {
	return p.Type == ParamTypeReference
}

// MetadataRegistry answers search-parameter metadata questions for
// resource types. Implementations must be consistent for the lifetime
// of the process.
type MetadataRegistry interface {
	// Param returns the declared metadata for paramName on resourceType.
	Param(resourceType, paramName string) (ParamInfo, bool)
	// ListParams returns the sorted names of all declared parameters
	// for resourceType.
	ListParams(resourceType string) []string
}

type registryKey struct {
	resourceType string
	param        string
}

// StaticRegistry is an in-process MetadataRegistry backed by a map.
// It is safe for concurrent reads and writes.
type StaticRegistry struct {
	mu     sync.RWMutex
	params map[registryKey]ParamInfo
}

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{params: make(map[registryKey]ParamInfo)}
}

// Register declares a search parameter for a resource type.
func (r *StaticRegistry) Register(resourceType, paramName string, info ParamInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[registryKey{resourceType, paramName}] = info
}

// Param implements MetadataRegistry.
func (r *StaticRegistry) Param(resourceType, paramName string) (ParamInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.params[registryKey{resourceType, paramName}]
	return info, ok
}

// ListParams implements MetadataRegistry.
func (r *StaticRegistry) ListParams(resourceType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for k := range r.params {
		if k.resourceType == resourceType {
			names = append(names, k.param)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a StaticRegistry seeded with the common
// search parameters of the core clinical resource types.
func DefaultRegistry() *StaticRegistry {
	r := NewStaticRegistry()

	// Patient
	r.Register("Patient", "name", ParamInfo{Type: ParamTypeString, Path: "Patient.name"})
	r.Register("Patient", "family", ParamInfo{Type: ParamTypeString, Path: "Patient.name.family"})
	r.Register("Patient", "given", ParamInfo{Type: ParamTypeString, Path: "Patient.name.given"})
	r.Register("Patient", "birthdate", ParamInfo{Type: ParamTypeDate, Path: "Patient.birthDate"})
	r.Register("Patient", "gender", ParamInfo{Type: ParamTypeToken, Path: "Patient.gender"})
	r.Register("Patient", "active", ParamInfo{Type: ParamTypeToken, Path: "Patient.active"})
	r.Register("Patient", "deceased", ParamInfo{Type: ParamTypeToken, Path: "Patient.deceased"})
	r.Register("Patient", "identifier", ParamInfo{Type: ParamTypeToken, Path: "Patient.identifier"})
	r.Register("Patient", "address-city", ParamInfo{Type: ParamTypeString, Path: "Patient.address.city"})
	r.Register("Patient", "general-practitioner", ParamInfo{Type: ParamTypeReference, Path: "Patient.generalPractitioner"})
	r.Register("Patient", "organization", ParamInfo{Type: ParamTypeReference, Path: "Patient.managingOrganization"})

	// Observation
	r.Register("Observation", "code", ParamInfo{Type: ParamTypeToken, Path: "Observation.code"})
	r.Register("Observation", "status", ParamInfo{Type: ParamTypeToken, Path: "Observation.status"})
	r.Register("Observation", "category", ParamInfo{Type: ParamTypeToken, Path: "Observation.category"})
	r.Register("Observation", "date", ParamInfo{Type: ParamTypeDate, Path: "Observation.effectiveDateTime"})
	r.Register("Observation", "value-quantity", ParamInfo{Type: ParamTypeNumber, Path: "Observation.valueQuantity.value"})
	r.Register("Observation", "subject", ParamInfo{Type: ParamTypeReference, Path: "Observation.subject"})
	r.Register("Observation", "patient", ParamInfo{Type: ParamTypeReference, Path: "Observation.subject"})
	r.Register("Observation", "encounter", ParamInfo{Type: ParamTypeReference, Path: "Observation.encounter"})
	r.Register("Observation", "performer", ParamInfo{Type: ParamTypeReference, Path: "Observation.performer"})
	r.Register("Observation", "device", ParamInfo{Type: ParamTypeReference, Path: "Observation.device"})

	// Encounter
	r.Register("Encounter", "status", ParamInfo{Type: ParamTypeToken, Path: "Encounter.status"})
	r.Register("Encounter", "class", ParamInfo{Type: ParamTypeToken, Path: "Encounter.class"})
	r.Register("Encounter", "date", ParamInfo{Type: ParamTypeDate, Path: "Encounter.period.start"})
	r.Register("Encounter", "subject", ParamInfo{Type: ParamTypeReference, Path: "Encounter.subject"})
	r.Register("Encounter", "patient", ParamInfo{Type: ParamTypeReference, Path: "Encounter.subject"})
	r.Register("Encounter", "location", ParamInfo{Type: ParamTypeReference, Path: "Encounter.location"})
	r.Register("Encounter", "practitioner", ParamInfo{Type: ParamTypeReference, Path: "Encounter.participant.individual"})

	// Practitioner
	r.Register("Practitioner", "name", ParamInfo{Type: ParamTypeString, Path: "Practitioner.name"})
	r.Register("Practitioner", "family", ParamInfo{Type: ParamTypeString, Path: "Practitioner.name.family"})
	r.Register("Practitioner", "identifier", ParamInfo{Type: ParamTypeToken, Path: "Practitioner.identifier"})
	r.Register("Practitioner", "active", ParamInfo{Type: ParamTypeToken, Path: "Practitioner.active"})

	// Condition
	r.Register("Condition", "code", ParamInfo{Type: ParamTypeToken, Path: "Condition.code"})
	r.Register("Condition", "clinical-status", ParamInfo{Type: ParamTypeToken, Path: "Condition.clinicalStatus"})
	r.Register("Condition", "onset-date", ParamInfo{Type: ParamTypeDate, Path: "Condition.onsetDateTime"})
	r.Register("Condition", "subject", ParamInfo{Type: ParamTypeReference, Path: "Condition.subject"})
	r.Register("Condition", "patient", ParamInfo{Type: ParamTypeReference, Path: "Condition.subject"})
	r.Register("Condition", "encounter", ParamInfo{Type: ParamTypeReference, Path: "Condition.encounter"})

	// MedicationRequest
	r.Register("MedicationRequest", "status", ParamInfo{Type: ParamTypeToken, Path: "MedicationRequest.status"})
	r.Register("MedicationRequest", "intent", ParamInfo{Type: ParamTypeToken, Path: "MedicationRequest.intent"})
	r.Register("MedicationRequest", "authoredon", ParamInfo{Type: ParamTypeDate, Path: "MedicationRequest.authoredOn"})
	r.Register("MedicationRequest", "subject", ParamInfo{Type: ParamTypeReference, Path: "MedicationRequest.subject"})
	r.Register("MedicationRequest", "patient", ParamInfo{Type: ParamTypeReference, Path: "MedicationRequest.subject"})
	r.Register("MedicationRequest", "requester", ParamInfo{Type: ParamTypeReference, Path: "MedicationRequest.requester"})

	// Procedure
	r.Register("Procedure", "code", ParamInfo{Type: ParamTypeToken, Path: "Procedure.code"})
	r.Register("Procedure", "status", ParamInfo{Type: ParamTypeToken, Path: "Procedure.status"})
	r.Register("Procedure", "date", ParamInfo{Type: ParamTypeDate, Path: "Procedure.performedDateTime"})
	r.Register("Procedure", "subject", ParamInfo{Type: ParamTypeReference, Path: "Procedure.subject"})
	r.Register("Procedure", "patient", ParamInfo{Type: ParamTypeReference, Path: "Procedure.subject"})

	// DiagnosticReport
	r.Register("DiagnosticReport", "code", ParamInfo{Type: ParamTypeToken, Path: "DiagnosticReport.code"})
	r.Register("DiagnosticReport", "status", ParamInfo{Type: ParamTypeToken, Path: "DiagnosticReport.status"})
	r.Register("DiagnosticReport", "date", ParamInfo{Type: ParamTypeDate, Path: "DiagnosticReport.effectiveDateTime"})
	r.Register("DiagnosticReport", "subject", ParamInfo{Type: ParamTypeReference, Path: "DiagnosticReport.subject"})
	r.Register("DiagnosticReport", "patient", ParamInfo{Type: ParamTypeReference, Path: "DiagnosticReport.subject"})

	// Organization
	r.Register("Organization", "name", ParamInfo{Type: ParamTypeString, Path: "Organization.name"})
	r.Register("Organization", "identifier", ParamInfo{Type: ParamTypeToken, Path: "Organization.identifier"})
	r.Register("Organization", "active", ParamInfo{Type: ParamTypeToken, Path: "Organization.active"})

	// Location
	r.Register("Location", "name", ParamInfo{Type: ParamTypeString, Path: "Location.name"})
	r.Register("Location", "status", ParamInfo{Type: ParamTypeToken, Path: "Location.status"})

	// Device
	r.Register("Device", "identifier", ParamInfo{Type: ParamTypeToken, Path: "Device.identifier"})
	r.Register("Device", "status", ParamInfo{Type: ParamTypeToken, Path: "Device.status"})
	r.Register("Device", "patient", ParamInfo{Type: ParamTypeReference, Path: "Device.patient"})

	return r
}
