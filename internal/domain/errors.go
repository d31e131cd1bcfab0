package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// NotAuthorisedError is returned when the caller has no right to perform an
// operation. It deliberately carries no resource detail: a caller with no
// visibility into a release must not be able to distinguish "does not exist"
// from "exists but withheld".
type NotAuthorisedError struct{}

func (e NotAuthorisedError) Error() string {
	return "not authorised"
}

func (e NotAuthorisedError) Is(target error) bool {
	_, ok := target.(NotAuthorisedError)
	if ok {
		return true
	}
	_, ok = target.(*NotAuthorisedError)
	return ok
}

var ErrNotAuthorised = NotAuthorisedError{}

// ReleaseActivationStateError is returned when activating a release that is
// already active.
type ReleaseActivationStateError struct {
	ReleaseKey string
}

func (e ReleaseActivationStateError) Error() string {
	return fmt.Sprintf("release %s is already activated", e.ReleaseKey)
}

func (e ReleaseActivationStateError) Is(target error) bool {
	_, ok := target.(ReleaseActivationStateError)
	if ok {
		return true
	}
	_, ok = target.(*ReleaseActivationStateError)
	return ok
}

// ReleaseDeactivationStateError is returned when deactivating a release that
// is not active.
type ReleaseDeactivationStateError struct {
	ReleaseKey string
}

func (e ReleaseDeactivationStateError) Error() string {
	return fmt.Sprintf("release %s is not activated", e.ReleaseKey)
}

func (e ReleaseDeactivationStateError) Is(target error) bool {
	_, ok := target.(ReleaseDeactivationStateError)
	if ok {
		return true
	}
	_, ok = target.(*ReleaseDeactivationStateError)
	return ok
}

// SelectionFrozenError is returned for selection or configuration mutations
// attempted while a release is activated. The sharing surface is frozen so
// that what is shared matches what was approved at activation time.
type SelectionFrozenError struct {
	ReleaseKey string
}

func (e SelectionFrozenError) Error() string {
	return fmt.Sprintf("release %s is activated and its sharing surface is frozen", e.ReleaseKey)
}

func (e SelectionFrozenError) Is(target error) bool {
	_, ok := target.(SelectionFrozenError)
	if ok {
		return true
	}
	_, ok = target.(*SelectionFrozenError)
	return ok
}

// ValidationError represents malformed caller input.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	if e.Message == "" {
		return "validation failed"
	}
	return e.Message
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

var ErrValidation = ValidationError{}

// NotEnabledError is returned when a sharing mechanism is switched off either
// in the deployment configuration or in the release's data sharing
// configuration. Distinct from NotAuthorisedError so operators can tell a
// config gap from a permission failure.
type NotEnabledError struct {
	Mechanism string
}

func (e NotEnabledError) Error() string {
	if e.Mechanism == "" {
		return "sharing mechanism not enabled"
	}
	return fmt.Sprintf("sharing mechanism %s not enabled", e.Mechanism)
}

func (e NotEnabledError) Is(target error) bool {
	_, ok := target.(NotEnabledError)
	if ok {
		return true
	}
	_, ok = target.(*NotEnabledError)
	return ok
}

var ErrNotEnabled = NotEnabledError{}

// UnhandledProtocolError is returned by the presigner registry when no
// adapter matches the requested storage protocol.
type UnhandledProtocolError struct {
	Protocol string
}

func (e UnhandledProtocolError) Error() string {
	return fmt.Sprintf("unhandled storage protocol %q", e.Protocol)
}

func (e UnhandledProtocolError) Is(target error) bool {
	_, ok := target.(UnhandledProtocolError)
	if ok {
		return true
	}
	_, ok = target.(*UnhandledProtocolError)
	return ok
}
