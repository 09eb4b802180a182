package launcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// CandidatePool yields instance types from most to least capable.
type CandidatePool struct {
	types []string
}

// NewCandidatePool copies types, which must be ordered cheapest first.
func NewCandidatePool(cheapestFirst []string) *CandidatePool {
	return &CandidatePool{types: append([]string(nil), cheapestFirst...)}
}

// Next pops the most capable remaining type.
func (p *CandidatePool) Next() (string, bool) {
	if len(p.types) == 0 {
		return "", false
	}
	last := p.types[len(p.types)-1]
	p.types = p.types[:len(p.types)-1]
	return last, true
}

// Remaining reports how many candidates are left.
func (p *CandidatePool) Remaining() int {
	return len(p.types)
}

// TransientDispatchError is a capacity or quota rejection of one instance type.
type TransientDispatchError struct {
	InstanceType string
	Err          error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("instance type %s rejected: %v", e.InstanceType, e.Err)
}

func (e *TransientDispatchError) Unwrap() error { return e.Err }

// DispatchError is returned after every candidate was rejected.
type DispatchError struct {
	InputKey string
	JobName  string
	Attempts []error
}

func (e *DispatchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("dispatch %s: no instance types configured", e.InputKey)
	}
	msgs := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		msgs[i] = a.Error()
	}
	return fmt.Sprintf("dispatch %s: all %d instance types rejected: %s", e.InputKey, len(e.Attempts), strings.Join(msgs, "; "))
}

func (e *DispatchError) Unwrap() []error { return e.Attempts }

// transientCodes are SageMaker error codes that reject one instance type
// without saying anything about the others.
var transientCodes = map[string]bool{
	"ResourceLimitExceeded": true,
	"ThrottlingException":   true,
	"ServiceUnavailable":    true,
	"InsufficientCapacity":  true,
	"CapacityError":         true,
	"InternalFailure":       true,
}

// IsTransient reports whether err should advance the pool to the next
// instance type. A ValidationException counts only when it names the
// instance type (unsupported in this region or account).
func IsTransient(err error, instanceType string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	if transientCodes[code] {
		return true
	}
	if code == "ValidationException" {
		msg := apiErr.ErrorMessage()
		return strings.Contains(msg, instanceType) || strings.Contains(strings.ToLower(msg), "instance type")
	}
	return false
}
