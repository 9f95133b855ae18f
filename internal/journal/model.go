// Package journal keeps a local log of include/exclude operations and their
// outcomes.
package journal

import (
	"time"
)

// Operation is the kind of engine operation recorded
type Operation string

const (
	OperationInclude Operation = "include"
	OperationExclude Operation = "exclude"
	OperationAttach  Operation = "attach"
)

// Outcome of a recorded operation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNoop    Outcome = "noop"
)

// Entry is one row of the journal
type Entry struct {
	ID              string    `json:"id"`
	OperationID     string    `json:"operation_id"`
	Operation       Operation `json:"operation"`
	KnowledgeBaseID string    `json:"knowledge_base_id,omitempty"`
	ResourceIDs     []string  `json:"resource_ids"`
	Outcome         Outcome   `json:"outcome"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	MembersAfter    int       `json:"members_after"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// NewEntry starts a journal entry
func NewEntry(operationID string, op Operation, resourceIDs []string) *Entry {
	now := time.Now()
	return &Entry{
		OperationID: operationID,
		Operation:   op,
		ResourceIDs: append([]string(nil), resourceIDs...),
		Outcome:     OutcomeFailure,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful settles the entry as a success
func (e *Entry) MarkSuccessful(knowledgeBaseID string, membersAfter int) {
	e.Outcome = OutcomeSuccess
	e.KnowledgeBaseID = knowledgeBaseID
	e.MembersAfter = membersAfter
	e.CompletedAt = time.Now()
}

// MarkFailed settles the entry as a failure
func (e *Entry) MarkFailed(errorKind, errorMessage string) {
	e.Outcome = OutcomeFailure
	e.ErrorKind = errorKind
	e.ErrorMessage = errorMessage
	e.CompletedAt = time.Now()
}

// MarkNoop settles the entry as a no-op
func (e *Entry) MarkNoop(reason string) {
	e.Outcome = OutcomeNoop
	e.ErrorMessage = reason
	e.CompletedAt = time.Now()
}

// Duration returns how long the operation took
func (e *Entry) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}
