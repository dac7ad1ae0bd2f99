package editsession

import (
	"strings"
)

// LockState is the client's view of the server-granted edit lock.
type LockState int

const (
	NoLock LockState = iota
	Pending
	Held
	DeniedByOtherEditor
	DeniedNoPermission
)

func (s LockState) String() string {
	switch s {
	case NoLock:
		return "no_lock"
	case Pending:
		return "pending"
	case Held:
		return "held"
	case DeniedByOtherEditor:
		return "denied_other_editor"
	case DeniedNoPermission:
		return "denied_no_permission"
	default:
		return "unknown"
	}
}

// EditStatus is the status returned by the store for an edit-lock request.
type EditStatus string

const (
	StatusEditMode     EditStatus = "EDIT_MODE"
	StatusViewMode     EditStatus = "VIEW_MODE"
	StatusOtherEditing EditStatus = "CANNOT_EDIT_OTHER_EDITING"
	StatusNoPermission EditStatus = "CANNOT_EDIT_NO_PERMISSION"
)

// FieldKind determines how a field value is serialized.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindDate   FieldKind = "date"
	KindTime   FieldKind = "time"
	KindChoice FieldKind = "choice"
	KindRadio  FieldKind = "radio"
)

// Valid reports whether k is one of the known kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindString, KindNumber, KindDate, KindTime, KindChoice, KindRadio:
		return true
	}
	return false
}

// ChoiceSeparator joins selected options of a choice field on the wire.
// Option labels therefore must not contain it.
const ChoiceSeparator = ","

// Value is a kind-tagged field value. Choice values use Options, every
// other kind uses Text.
type Value struct {
	Kind    FieldKind
	Text    string
	Options []string
}

// TextValue builds a single-string value of the given kind.
func TextValue(kind FieldKind, s string) Value {
	return Value{Kind: kind, Text: s}
}

// ChoiceValue builds a multi-select value.
func ChoiceValue(options ...string) Value {
	return Value{Kind: KindChoice, Options: append([]string(nil), options...)}
}

// Encode returns the wire form of v.
func (v Value) Encode() string {
	if v.Kind == KindChoice {
		return strings.Join(v.Options, ChoiceSeparator)
	}
	return v.Text
}

// DecodeValue parses the wire form produced by Encode.
func DecodeValue(kind FieldKind, raw string) Value {
	if kind != KindChoice {
		return Value{Kind: kind, Text: raw}
	}
	var opts []string
	for _, p := range strings.Split(raw, ChoiceSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	return Value{Kind: kind, Options: opts}
}

// Equal compares two values by kind and wire form.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Encode() == o.Encode()
}

// AttemptOutcome is the result of one per-field autosave request.
type AttemptOutcome int

const (
	AttemptPending AttemptOutcome = iota
	AttemptSuccess
	AttemptFailure
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptSuccess:
		return "success"
	case AttemptFailure:
		return "failure"
	default:
		return "pending"
	}
}

// AutosaveAttempt persists one field's value snapshot.
type AutosaveAttempt struct {
	FieldID         string
	Value           Value
	Outcome         AttemptOutcome
	Status          int    // HTTP status of a failed request, 0 for timeouts
	ValidationError string // set when the store rejected the value
	Err             error
}

// BatchReport describes one autosave batch once it has completed.
type BatchReport struct {
	PartOfSave bool
	Attempts   []*AutosaveAttempt
}

// FieldIDs lists the fields written by the batch, in field order.
func (r *BatchReport) FieldIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		ids = append(ids, a.FieldID)
	}
	return ids
}

// Failures counts attempts that failed at the transport level.
func (r *BatchReport) Failures() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == AttemptFailure {
			n++
		}
	}
	return n
}

// SaveOptions controls what happens after a successful save.
type SaveOptions struct {
	Close    bool
	Unlock   bool
	Implicit bool
}

// SaveOutcome is the result of a save transaction.
type SaveOutcome int

const (
	SavePending SaveOutcome = iota
	SavedNoChange
	SavedWithChange
	SaveFailed
)

func (o SaveOutcome) String() string {
	switch o {
	case SavedNoChange:
		return "saved_no_change"
	case SavedWithChange:
		return "saved_with_change"
	case SaveFailed:
		return "failed"
	default:
		return "pending"
	}
}
