package editsession

import "sync"

// FieldEditor is the input surface bound to one field.
//
// IsDirty reports input the user entered that the Session has not read yet;
// a call to Value hands that input over and clears the editor's own flag.
// SetValue replaces the editor content without marking it dirty.
//
// The Session calls these methods while holding its internal lock, so
// implementations must not call back into the Session synchronously.
type FieldEditor interface {
	IsDirty() bool
	Value() Value
	SetValue(v Value)
	Disable()
	Enable()
}

// Reactivator is implemented by editors that can re-open their edit
// affordance after being disabled for a resynchronization.
type Reactivator interface {
	Reactivate()
}

// Field is one editable unit of the document. Values handed out by the
// Session are snapshots taken under its lock.
type Field struct {
	ID                 string
	Kind               FieldKind
	ModifiedAt         int64 // ms since epoch, as reported by the store
	MandatorySatisfied bool

	editor FieldEditor
	dirty  bool
}

// Editor returns the editor bound to the field.
func (f *Field) Editor() FieldEditor { return f.editor }

// snapshot copies the field for callers outside the session lock. The
// editor is shared; it guards itself.
func (f *Field) snapshot() *Field {
	c := *f
	return &c
}

// pending reports whether the field must be part of the next batch.
func (f *Field) pending() bool {
	return f.dirty || f.editor.IsDirty()
}

// MemoryEditor is a FieldEditor that keeps its value in memory. It backs
// the command-line client and the tests.
type MemoryEditor struct {
	mu          sync.Mutex
	value       Value
	changed     bool
	disabled    bool
	reactivated int
}

// NewMemoryEditor creates an editor holding v.
func NewMemoryEditor(v Value) *MemoryEditor {
	return &MemoryEditor{value: v}
}

// Input simulates the user typing a new value. It is ignored while the
// editor is disabled and reports whether the input was accepted.
func (e *MemoryEditor) Input(v Value) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disabled {
		return false
	}
	e.value = v
	e.changed = true
	return true
}

func (e *MemoryEditor) IsDirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

func (e *MemoryEditor) Value() Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = false
	return e.value
}

// Peek returns the current value without handing it over.
func (e *MemoryEditor) Peek() Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *MemoryEditor) SetValue(v Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
}

func (e *MemoryEditor) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled = true
}

func (e *MemoryEditor) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled = false
}

// Disabled reports whether the editor currently rejects input.
func (e *MemoryEditor) Disabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled
}

func (e *MemoryEditor) Reactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reactivated++
}

// Reactivations counts Reactivate calls.
func (e *MemoryEditor) Reactivations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reactivated
}
