package editsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEditLock_PreloadedSkipsNetwork(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, Held, fx.session.LockState())
	assert.Equal(t, 0, fx.store.lockCalls)

	// already held: still no request
	state, err := fx.session.RequestEditLock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Held, state)
	assert.Equal(t, 0, fx.store.lockCalls)
}

func TestRequestEditLock_Responses(t *testing.T) {
	tests := []struct {
		name       string
		resp       LockResponse
		wantState  LockState
		wantErr    error
		wantNotice NoticeKind
		wantEditor string
	}{
		{
			name:      "granted",
			resp:      LockResponse{Status: StatusEditMode},
			wantState: Held,
		},
		{
			name:       "other editor",
			resp:       LockResponse{Status: StatusOtherEditing, EditorUsername: "alice"},
			wantState:  DeniedByOtherEditor,
			wantErr:    ErrLockDenied,
			wantNotice: NoticeLockDenied,
			wantEditor: "alice",
		},
		{
			name:       "no permission",
			resp:       LockResponse{Status: StatusNoPermission},
			wantState:  DeniedNoPermission,
			wantErr:    ErrNoPermission,
			wantNotice: NoticeLockNoPermission,
		},
		{
			name:       "view mode",
			resp:       LockResponse{Status: StatusViewMode},
			wantState:  DeniedNoPermission,
			wantErr:    ErrNoPermission,
			wantNotice: NoticeLockNoPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.lockResp = tt.resp
			rec := &recorder{}
			s := New("doc-1", store, WithLogger(discardLogger()), WithNotifier(rec))

			state, err := s.RequestEditLock(context.Background())
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantState, s.LockState())
			assert.Equal(t, 1, store.lockCalls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNotice != "" {
				notices := rec.ofKind(tt.wantNotice)
				require.Len(t, notices, 1)
				assert.Equal(t, Blocking, notices[0].Severity)
			}
			assert.Equal(t, tt.wantEditor, s.State().CurrentEditorUsername)
		})
	}
}

func TestRequestEditLock_TransportError(t *testing.T) {
	store := newFakeStore()
	store.lockErr = statusError(502)
	rec := &recorder{}
	s := New("doc-1", store, WithLogger(discardLogger()), WithNotifier(rec))

	state, err := s.RequestEditLock(context.Background())
	assert.Equal(t, NoLock, state)

	var serr *SessionError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "lock", serr.Op)
	assert.Equal(t, 502, StatusOf(err))

	notices := rec.ofKind(NoticeLockFailed)
	require.Len(t, notices, 1)
	assert.Equal(t, Blocking, notices[0].Severity)
}

func TestRequestEditLock_ConcurrentCallersShareRequest(t *testing.T) {
	store := newFakeStore()
	store.lockGate = make(chan struct{})
	s := New("doc-1", store, WithLogger(discardLogger()), WithNotifier(&recorder{}))

	const callers = 5
	var wg sync.WaitGroup
	states := make([]LockState, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i], _ = s.RequestEditLock(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.lockCalls == 1
	}, timeout, tick)
	assert.Equal(t, Pending, s.LockState())

	time.Sleep(50 * time.Millisecond)
	close(store.lockGate)
	wg.Wait()

	for _, st := range states {
		assert.Equal(t, Held, st)
	}
	assert.Equal(t, 1, store.lockCalls)
}

func TestUnlock_ReleasesHeldLock(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.session.EnsureFieldsSynchronized(context.Background(), false))

	require.NoError(t, fx.session.Unlock(context.Background()))
	st := fx.session.State()
	assert.Equal(t, NoLock, st.LockState)
	assert.False(t, st.FieldsSynchronized)
	assert.Equal(t, 1, fx.store.unlockCalls)

	// not held: no request
	require.NoError(t, fx.session.Unlock(context.Background()))
	assert.Equal(t, 1, fx.store.unlockCalls)
}

func TestRequestEditLock_CallerCancelDoesNotFailOthers(t *testing.T) {
	store := newFakeStore()
	store.lockGate = make(chan struct{})
	s := New("doc-1", store, WithLogger(discardLogger()), WithNotifier(&recorder{}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	type result struct {
		state LockState
		err   error
	}
	first := make(chan result, 1)
	go func() {
		st, err := s.RequestEditLock(firstCtx)
		first <- result{st, err}
	}()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.lockCalls == 1
	}, timeout, tick)

	second := make(chan result, 1)
	go func() {
		st, err := s.RequestEditLock(context.Background())
		second <- result{st, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	r := <-first
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, Pending, r.state)

	close(store.lockGate)
	r = <-second
	require.NoError(t, r.err)
	assert.Equal(t, Held, r.state)
	assert.Equal(t, Held, s.LockState())
	assert.Equal(t, 1, store.lockCalls)
}

func TestFieldEditsRequireLock(t *testing.T) {
	newSession := func(store *fakeStore) *Session {
		s := New("doc-1", store, WithLogger(discardLogger()), WithNotifier(&recorder{}))
		_, err := s.AddField("A", KindText, NewMemoryEditor(TextValue(KindText, "")))
		require.NoError(t, err)
		return s
	}
	assertRejected := func(t *testing.T, s *Session) {
		t.Helper()
		err := s.BeginEdit("A")
		assert.ErrorIs(t, err, ErrLockNotHeld)
		assert.Contains(t, err.Error(), "A")
		assert.ErrorIs(t, s.MarkDirty("A"), ErrLockNotHeld)
		assert.False(t, s.IsDirty("A"))
		assert.Empty(t, s.State().ActiveField)
	}

	t.Run("no lock", func(t *testing.T) {
		s := newSession(newFakeStore())
		require.Equal(t, NoLock, s.LockState())
		assertRejected(t, s)
	})

	t.Run("pending", func(t *testing.T) {
		store := newFakeStore()
		store.lockGate = make(chan struct{})
		s := newSession(store)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.RequestEditLock(context.Background())
		}()
		require.Eventually(t, func() bool { return s.LockState() == Pending }, timeout, tick)
		assertRejected(t, s)

		close(store.lockGate)
		<-done
		require.Equal(t, Held, s.LockState())
		assert.NoError(t, s.BeginEdit("A"))
		assert.NoError(t, s.MarkDirty("A"))
		assert.True(t, s.IsDirty("A"))
	})

	t.Run("denied by other editor", func(t *testing.T) {
		store := newFakeStore()
		store.lockResp = LockResponse{Status: StatusOtherEditing, EditorUsername: "bob"}
		s := newSession(store)
		state, _ := s.RequestEditLock(context.Background())
		require.Equal(t, DeniedByOtherEditor, state)
		assertRejected(t, s)
	})

	t.Run("unknown field reported first", func(t *testing.T) {
		s := newSession(newFakeStore())
		assert.ErrorIs(t, s.MarkDirty("missing"), ErrUnknownField)
	})
}
