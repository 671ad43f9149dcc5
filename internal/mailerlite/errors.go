package mailerlite

import "fmt"

// ProviderError wraps a failed provider call with enough context to log and
// classify it. A 404 on a lookup is absence, not a ProviderError; everything
// else non-2xx, plus transport failures, comes back as one of these.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("mailerlite: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mailerlite: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
