package ai

import "fmt"

// NetworkError marks DNS/connectivity failures so callers can surface a
// service-unavailable status instead of a generic upstream failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("watsonx %s: network: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// GenerationError covers every non-network failure from the generation
// service: bad status, unparseable body, empty result.
type GenerationError struct {
	Op     string
	Status int
	Msg    string
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("watsonx %s: status %d: %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("watsonx %s: %s", e.Op, e.Msg)
}
