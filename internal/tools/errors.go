package tools

import "fmt"

// ValidationError flags bad or missing tool arguments. It is folded back
// into the conversation as a structured result, never fatal to the loop.
type ValidationError struct {
	Tool string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Msg)
}

// ProviderError wraps an external collaborator failure that survived the
// retry policy. The model proceeds with degraded data.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
