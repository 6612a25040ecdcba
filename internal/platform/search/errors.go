package search

import (
	"errors"
	"fmt"
)

// Validation reason codes. These are machine-checkable and surfaced to
// clients alongside the offending parameter name.
const (
	CodeUnknownParam      = "unknown-parameter"
	CodeUnknownChainField = "unknown-chain-field"
	CodeNotReference      = "not-a-reference"
	CodeInvalidFormat     = "invalid-format"
	CodeConflictingValues = "conflicting-values"
	CodeMultipleValues    = "multiple-values"
)

// ValidationError reports the first parameter that failed validation.
// It is deterministic and never retried.
type ValidationError struct {
	Param   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search parameter %q (%s): %s", e.Param, e.Code, e.Message)
}

// ErrStaleToken indicates an unknown or expired pagination token. It
// is distinct from "no results": the client must restart its search.
var ErrStaleToken = errors.New("pagination token is unknown or expired")

// ErrBackendUnavailable indicates a query engine or the key-value
// store could not be reached. The boundary degrades to an empty
// result set or a service-unavailable signal, never a partial page.
var ErrBackendUnavailable = errors.New("search backend unavailable")
