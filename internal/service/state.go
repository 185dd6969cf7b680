package service

import (
	"github.com/oresults/oresults/internal/document"
	"github.com/oresults/oresults/internal/validate"
)

// State is a step of the per-document write workflow.
type State int

const (
	Received State = iota
	Validating
	ValidationFailed
	Validated
	CheckingDuplicate
	Duplicate
	Unique
	Persisting
	PersistFailed
	Persisted
	Responded
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Validating:
		return "validating"
	case ValidationFailed:
		return "validation_failed"
	case Validated:
		return "validated"
	case CheckingDuplicate:
		return "checking_duplicate"
	case Duplicate:
		return "duplicate"
	case Unique:
		return "unique"
	case Persisting:
		return "persisting"
	case PersistFailed:
		return "persist_failed"
	case Persisted:
		return "persisted"
	case Responded:
		return "responded"
	default:
		return "unknown"
	}
}

// Outcome is the result of one document passing through the workflow.
// Document holds the stored document on success and the candidate otherwise.
type Outcome struct {
	State    State
	Trail    []State
	Message  string
	Document document.Document
	Errors   []validate.Entry
	Err      error
}

func (o *Outcome) to(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

// OK reports whether the document was persisted.
func (o *Outcome) OK() bool {
	return o.Err == nil && (o.State == Persisted || o.State == Responded)
}

// Respond marks the outcome as delivered to the caller.
func (o *Outcome) Respond() {
	o.to(Responded)
}
