package ai

import (
	"errors"
	"fmt"
)

// ProviderError is a structured provider failure. It carries the provider
// name and, when known, a remediation hint the caller can surface verbatim.
type ProviderError struct {
	Provider    string
	Message     string
	Remediation string
}

func (e *ProviderError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Remediation)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// AsProviderError unwraps err into a ProviderError when it is one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
