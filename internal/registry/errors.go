package registry

import "fmt"

// notFoundError signals an unknown model id (maps to 404).
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "model not found: " + e.id }

// ErrNotFound returns an error for a model id absent from the registry.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether the error indicates a missing model id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// duplicateIDError signals registration of an id that already exists.
type duplicateIDError struct{ id string }

func (e duplicateIDError) Error() string { return "model id already registered: " + e.id }

// IsDuplicateID reports whether the error indicates a duplicate registration.
func IsDuplicateID(err error) bool {
	_, ok := err.(duplicateIDError)
	return ok
}

// invalidTransitionError names the illegal state-machine edge.
type invalidTransitionError struct {
	id   string
	from string
	to   string
}

func (e invalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.id, e.from, e.to)
}

// IsInvalidTransition reports whether the error indicates an illegal edge.
func IsInvalidTransition(err error) bool {
	_, ok := err.(invalidTransitionError)
	return ok
}

// notInstalledError signals activation of a model that is not installed
// (or not key-validated, for cloud models).
type notInstalledError struct{ id string }

func (e notInstalledError) Error() string { return "model not installed: " + e.id }

// IsNotInstalled reports whether the error indicates a non-activatable model.
func IsNotInstalled(err error) bool {
	_, ok := err.(notInstalledError)
	return ok
}

// protectedModelError signals deletion of a base model.
type protectedModelError struct{ id string }

func (e protectedModelError) Error() string { return "cannot delete base model: " + e.id }

// IsProtectedModel reports whether the error indicates a protected deletion.
func IsProtectedModel(err error) bool {
	_, ok := err.(protectedModelError)
	return ok
}

// activeModelInUseError signals deletion of the currently active model.
type activeModelInUseError struct{ id string }

func (e activeModelInUseError) Error() string {
	return "model is active, deactivate before deleting: " + e.id
}

// IsActiveModelInUse reports whether the error indicates an active-model deletion.
func IsActiveModelInUse(err error) bool {
	_, ok := err.(activeModelInUseError)
	return ok
}
