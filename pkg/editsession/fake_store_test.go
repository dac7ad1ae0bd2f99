package editsession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	timeout = time.Second
	tick    = time.Millisecond
)

// statusError is a store error carrying an HTTP status.
type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("http status %d", int(e)) }
func (e statusError) HTTPStatus() int { return int(e) }

// fakeStore is an in-memory DocumentStore with hooks for blocking and
// failing individual calls.
type fakeStore struct {
	mu sync.Mutex

	lockResp  LockResponse
	lockErr   error
	lockGate  chan struct{}
	lockCalls int

	updates    []FieldUpdate
	fetchErr   error
	fetchSince []int64

	// autosaveFn overrides the default successful response.
	autosaveFn    func(ctx context.Context, fieldID string, v Value) (AutosaveResponse, error)
	autosaved     []string
	values        map[string]Value
	writing       int
	maxConcurrent int

	saveResp   SaveResponse
	saveErr    error
	saveGate   chan struct{}
	saveUnlock []bool

	unlockCalls int
	events      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lockResp: LockResponse{Status: StatusEditMode},
		saveResp: SaveResponse{Success: true, ContentChanged: true, RedirectURL: "/documents/doc-1"},
		values:   make(map[string]Value),
	}
}

func (f *fakeStore) RequestEditLock(ctx context.Context, documentID string) (LockResponse, error) {
	f.mu.Lock()
	f.lockCalls++
	gate := f.lockGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return LockResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockResp, f.lockErr
}

func (f *fakeStore) FetchUpdatedFields(ctx context.Context, documentID string, known int64) ([]FieldUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchSince = append(f.fetchSince, known)
	f.events = append(f.events, "fetch")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]FieldUpdate(nil), f.updates...), nil
}

func (f *fakeStore) AutosaveField(ctx context.Context, fieldID string, v Value) (AutosaveResponse, error) {
	f.mu.Lock()
	f.autosaved = append(f.autosaved, fieldID)
	f.events = append(f.events, "autosave:"+fieldID)
	f.writing++
	f.maxConcurrent = max(f.maxConcurrent, f.writing)
	fn := f.autosaveFn
	f.mu.Unlock()

	resp, err := AutosaveResponse{Success: true}, error(nil)
	if fn != nil {
		resp, err = fn(ctx, fieldID, v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writing--
	if err == nil && resp.Success {
		f.values[fieldID] = v
	}
	return resp, err
}

func (f *fakeStore) Save(ctx context.Context, documentID string, unlock bool) (SaveResponse, error) {
	f.mu.Lock()
	f.saveUnlock = append(f.saveUnlock, unlock)
	f.events = append(f.events, "save")
	gate := f.saveGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveResp, f.saveErr
}

func (f *fakeStore) Unlock(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlockCalls++
	f.events = append(f.events, "unlock")
	return nil
}

func (f *fakeStore) autosaveCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.autosaved...)
}

func (f *fakeStore) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeStore) saveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saveUnlock)
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// recorder collects notices.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) ofKind(kind NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture is a session holding the lock with text fields A and B.
type fixture struct {
	store    *fakeStore
	notices  *recorder
	session  *Session
	editors  map[string]*MemoryEditor
	navigate []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{
		store:   newFakeStore(),
		notices: &recorder{},
		editors: make(map[string]*MemoryEditor),
	}
	base := []Option{
		WithLogger(discardLogger()),
		WithNotifier(fx.notices),
		WithNavigator(NavigatorFunc(func(url string) { fx.navigate = append(fx.navigate, url) })),
		WithInitialStatus(StatusEditMode),
	}
	fx.session = New("doc-1", fx.store, append(base, opts...)...)
	for _, id := range []string{"A", "B"} {
		ed := NewMemoryEditor(TextValue(KindText, "initial "+id))
		_, err := fx.session.AddField(id, KindText, ed)
		require.NoError(t, err)
		fx.editors[id] = ed
	}
	state, err := fx.session.RequestEditLock(context.Background())
	require.NoError(t, err)
	require.Equal(t, Held, state)
	return fx
}

// typeInto simulates user input into a field.
func (fx *fixture) typeInto(t *testing.T, id, text string) {
	t.Helper()
	require.True(t, fx.editors[id].Input(TextValue(KindText, text)))
}
