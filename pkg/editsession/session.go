package editsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// EditorFactory creates editors for fields first seen in a store response.
type EditorFactory func(u FieldUpdate) FieldEditor

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithNotifier sets where notices go. Defaults to a LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithNavigator sets the redirect target of save-and-close.
func WithNavigator(n Navigator) Option {
	return func(s *Session) { s.navigator = n }
}

// WithPolicy overrides the autosave tuning constants. Zero fields fall back
// to DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *Session) { s.policy = p.withDefaults() }
}

// WithInitialStatus records the edit status known when the document was
// loaded. EDIT_MODE lets RequestEditLock skip the network round trip.
func WithInitialStatus(st EditStatus) Option {
	return func(s *Session) { s.initialStatus = st }
}

// WithBeforeSave registers a step that must finish before a save persists
// anything, such as a pending rename.
func WithBeforeSave(fn func(ctx context.Context) error) Option {
	return func(s *Session) { s.beforeSave = fn }
}

// WithEditorFactory sets the factory for fields added by the server.
func WithEditorFactory(f EditorFactory) Option {
	return func(s *Session) { s.newEditor = f }
}

// Session is one client's attempt to edit one document.
type Session struct {
	documentID string
	store      DocumentStore
	log        *slog.Logger
	notifier   Notifier
	navigator  Navigator
	policy     Policy
	beforeSave func(ctx context.Context) error
	newEditor  EditorFactory

	// calls de-duplicates concurrent lock requests and field fetches
	calls singleflight.Group

	mu                 sync.Mutex
	lockState          LockState
	initialStatus      EditStatus
	currentEditor      string
	fieldsSynchronized bool
	lastKnownModified  int64
	fields             map[string]*Field
	order              []string
	activeField        string

	inflight       *batch
	runAnother     bool
	saveInProgress bool
	unchangedSaves int
	backoff        BackoffState
	notifiedStatus map[int]bool

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// batch is the in-flight autosave batch; done closes on completion.
type batch struct {
	done   chan struct{}
	report *BatchReport
}

// New creates a session for documentID. The session starts in NoLock.
func New(documentID string, store DocumentStore, opts ...Option) *Session {
	s := &Session{
		documentID:     documentID,
		store:          store,
		navigator:      noopNavigator{},
		policy:         DefaultPolicy(),
		fields:         make(map[string]*Field),
		notifiedStatus: make(map[int]bool),
		newEditor: func(u FieldUpdate) FieldEditor {
			return NewMemoryEditor(DecodeValue(u.Kind, u.Value))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.OrDefault()
	}
	s.log = s.log.With("component", "editsession", "document_id", documentID)
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.log}
	}
	s.backoff.RetryTimeout = s.policy.RequestTimeout(0)
	return s
}

// DocumentID returns the id of the edited document.
func (s *Session) DocumentID() string { return s.documentID }

// AddField registers a field with its editor. Fields are autosaved in the
// order they were added. The returned Field is a snapshot.
func (s *Session) AddField(id string, kind FieldKind, editor FieldEditor) (*Field, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("field %s: invalid kind %q", id, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.fields[id]; exists {
		return nil, fmt.Errorf("field %s already registered", id)
	}
	f := &Field{ID: id, Kind: kind, editor: editor}
	s.fields[id] = f
	s.order = append(s.order, id)
	return f.snapshot(), nil
}

// removeFieldLocked drops a field deleted on the server. Caller holds s.mu.
func (s *Session) removeFieldLocked(id string) {
	delete(s.fields, id)
	for i, fid := range s.order {
		if fid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeField == id {
		s.activeField = ""
	}
}

// Field returns a snapshot of the field with the given id. Later resyncs
// do not change the returned value.
func (s *Session) Field(id string) (*Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return nil, false
	}
	return f.snapshot(), true
}

// Fields returns snapshots of the active fields in order.
func (s *Session) Fields() []*Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Field, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.fields[id].snapshot())
	}
	return out
}

// FieldIDs lists the active fields in order.
func (s *Session) FieldIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// MarkDirty flags a field for the next autosave batch. It fails with
// ErrLockNotHeld unless the session holds the edit lock.
func (s *Session) MarkDirty(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.editableFieldLocked(id)
	if err != nil {
		return err
	}
	f.dirty = true
	return nil
}

// editableFieldLocked returns the field if edits to it are allowed now.
// Caller holds s.mu.
func (s *Session) editableFieldLocked(id string) (*Field, error) {
	f, ok := s.fields[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	if s.lockState != Held {
		return nil, fmt.Errorf("%w: field %s (lock %s)", ErrLockNotHeld, id, s.lockState)
	}
	return f, nil
}

// IsDirty reports whether the field would be part of the next batch.
func (s *Session) IsDirty(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	return ok && f.pending()
}

// BeginEdit marks the field the user is currently typing into. A resync
// never overwrites it. Like MarkDirty it requires the edit lock.
func (s *Session) BeginEdit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.editableFieldLocked(id); err != nil {
		return err
	}
	s.activeField = id
	return nil
}

// EndEdit clears the active field if it is id.
func (s *Session) EndEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeField == id {
		s.activeField = ""
	}
}

// State is a read-only snapshot of the session.
type State struct {
	DocumentID              string
	LockState               LockState
	CurrentEditorUsername   string
	FieldsSynchronized      bool
	LastKnownModification   int64
	AutosaveInFlight        bool
	RunAnotherAutosave      bool
	SaveInProgress          bool
	UnchangedContentCounter int
	Backoff                 BackoffState
	DirtyFields             []string
	ActiveField             string
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		DocumentID:              s.documentID,
		LockState:               s.lockState,
		CurrentEditorUsername:   s.currentEditor,
		FieldsSynchronized:      s.fieldsSynchronized,
		LastKnownModification:   s.lastKnownModified,
		AutosaveInFlight:        s.inflight != nil,
		RunAnotherAutosave:      s.runAnother,
		SaveInProgress:          s.saveInProgress,
		UnchangedContentCounter: s.unchangedSaves,
		Backoff:                 s.backoff,
		ActiveField:             s.activeField,
	}
	for _, id := range s.order {
		if s.fields[id].pending() {
			st.DirtyFields = append(st.DirtyFields, id)
		}
	}
	return st
}

// LockState returns the current lock state.
func (s *Session) LockState() LockState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockState
}

// Backoff returns the failure bookkeeping.
func (s *Session) Backoff() BackoffState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// loseLockLocked drops the lock and the synchronization it guaranteed.
// Caller holds s.mu.
func (s *Session) loseLockLocked() {
	s.lockState = NoLock
	s.currentEditor = ""
	s.fieldsSynchronized = false
}

func (s *Session) notify(n Notice) {
	s.notifier.Notify(n)
}
