package infer

// unavailableError signals that no runtime can serve the request in this
// build or configuration.
type unavailableError struct{ detail string }

func (e unavailableError) Error() string { return "inference unavailable: " + e.detail }

// ErrUnavailable builds an unavailable error for callers outside the package.
func ErrUnavailable(detail string) error { return unavailableError{detail: detail} }

// IsUnavailable reports whether the error indicates a missing runtime.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// invalidKeyError signals a rejected provider API key.
type invalidKeyError struct{ provider string }

func (e invalidKeyError) Error() string { return "invalid api key for provider: " + e.provider }

// IsInvalidKey reports whether the error indicates key validation failure.
func IsInvalidKey(err error) bool {
	_, ok := err.(invalidKeyError)
	return ok
}

// keyNotFoundError signals a missing stored key.
type keyNotFoundError struct{ provider string }

func (e keyNotFoundError) Error() string { return "no stored key for provider: " + e.provider }

// IsKeyNotFound reports whether the error indicates an absent stored key.
func IsKeyNotFound(err error) bool {
	_, ok := err.(keyNotFoundError)
	return ok
}

// unknownProviderError signals a provider name outside the supported set.
type unknownProviderError struct{ provider string }

func (e unknownProviderError) Error() string { return "unknown cloud provider: " + e.provider }

// IsUnknownProvider reports whether the error indicates an unsupported provider.
func IsUnknownProvider(err error) bool {
	_, ok := err.(unknownProviderError)
	return ok
}
