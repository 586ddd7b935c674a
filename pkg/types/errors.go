package types

import "fmt"

// Code is the taxonomy of error codes every component surfaces. Every error
// produced by the agent's own logic (as opposed to a bare wrapped library
// error) carries one of these.
type Code string

const (
	CodeConfigError         Code = "CONFIG_ERROR"
	CodePolicyBlocked       Code = "POLICY_BLOCKED"
	CodeSimulationFailed    Code = "SIMULATION_FAILED"
	CodeSendFailed          Code = "SEND_FAILED"
	CodeAdapterUnavailable  Code = "ADAPTER_UNAVAILABLE"
	CodePriceUnavailable    Code = "PRICE_UNAVAILABLE"
	CodeScanEmpty           Code = "SCAN_EMPTY"
)

// AgentError is a short code plus a human message, with optional structured
// details. Every component-level failure is wrapped in one of these so the
// Scheduler and Status Server can classify it without string matching.
type AgentError struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs an AgentError, optionally attaching details.
func NewError(code Code, message string, details map[string]any) *AgentError {
	return &AgentError{Code: code, Message: message, Details: details}
}

// IsCode reports whether err is an *AgentError carrying the given code.
func IsCode(err error, code Code) bool {
	ae, ok := err.(*AgentError)
	return ok && ae.Code == code
}
