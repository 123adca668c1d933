package models

// ErrorKind classifies a failure in the orchestration core.
type ErrorKind string

const (
	// ErrKindInvalidGraph indicates the planner produced a cyclic or
	// dangling graph. Decomposition-time, non-retryable.
	ErrKindInvalidGraph ErrorKind = "invalid_graph"
	// ErrKindNoEligibleAgent indicates no live agent advertises the
	// required capability. Retryable up to the retry budget.
	ErrKindNoEligibleAgent ErrorKind = "no_eligible_agent"
	// ErrKindTimeout indicates the agent call exceeded its deadline.
	// Retryable.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindAgentError indicates the agent reported a structured failure.
	// Retryable only if the agent marked it retryable.
	ErrKindAgentError ErrorKind = "agent_error"
	// ErrKindHardVeto indicates an unconditional authority veto.
	ErrKindHardVeto ErrorKind = "hard_veto"
	// ErrKindSoftVeto indicates an advisory veto that was not overridden.
	ErrKindSoftVeto ErrorKind = "soft_veto"
	// ErrKindSignatureMismatch indicates a mailbox message failed
	// verification and was dropped.
	ErrKindSignatureMismatch ErrorKind = "signature_mismatch"
	// ErrKindDependencyFailed indicates a predecessor failed and the
	// subtask was skipped by cascade.
	ErrKindDependencyFailed ErrorKind = "dependency_failed"
)

// Valid returns true if the kind is a known value.
func (k ErrorKind) Valid() bool {
	switch k {
	case ErrKindInvalidGraph, ErrKindNoEligibleAgent, ErrKindTimeout,
		ErrKindAgentError, ErrKindHardVeto, ErrKindSoftVeto,
		ErrKindSignatureMismatch, ErrKindDependencyFailed:
		return true
	default:
		return false
	}
}
