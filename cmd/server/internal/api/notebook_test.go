package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/domain/notebook"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/middleware"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
	"github.com/houzhh15/eln-editsession/pkg/docstore"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

type testServer struct {
	srv    *httptest.Server
	router *gin.Engine
	audit  *audit.FileAuditLogger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := notebook.OpenRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	auditLogger, err := audit.NewFileAuditLogger(t.TempDir())
	require.NoError(t, err)

	um, err := users.NewManager(t.TempDir(), []byte("test-secret"), time.Hour)
	require.NoError(t, err)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := um.CreateUser(name, "pw-"+name)
		require.NoError(t, err)
	}

	svc := notebook.NewService(repo, notebook.WithAudit(auditLogger))

	r := gin.New()
	r.Use(middleware.Auth(um))
	r.POST("/api/v1/auth/login", HandleLogin(um, auditLogger))
	v1 := r.Group("/api/v1")
	RegisterNotebookRoutes(v1, svc)
	v1.GET("/documents/:id/audit", HandleDocumentAudit(auditLogger))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, router: r, audit: auditLogger}
}

func (ts *testServer) client(t *testing.T, user string) *docstore.Client {
	t.Helper()
	c := docstore.New(ts.srv.URL, "")
	_, err := c.Login(context.Background(), user, "pw-"+user)
	require.NoError(t, err)
	return c
}

func (ts *testServer) createDoc(t *testing.T, c *docstore.Client) *docstore.Document {
	t.Helper()
	doc, err := c.CreateDocument(context.Background(), docstore.CreateDocumentRequest{
		Title:   "Cell culture log",
		Writers: []string{"bob"},
		Fields: []docstore.FieldSpec{
			{Name: "Observations", Kind: editsession.KindText},
			{Name: "Passage", Kind: editsession.KindNumber, Value: "3"},
			{Name: "Media", Kind: editsession.KindChoice, Options: []string{"DMEM", "RPMI", "FBS"}},
		},
	})
	require.NoError(t, err)
	return doc
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "", http.MethodGet, "/api/v1/documents/x", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c := ts.client(t, "alice")
	assert.NotEmpty(t, c.Token)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "alice")
	doc := ts.createDoc(t, c)

	// 未持锁自动保存返回 409
	w := ts.do(t, c.Token, http.MethodPut, "/api/v1/fields/"+doc.Fields[0].ID+"/autosave", gin.H{"kind": "text", "value": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), notebook.ErrCodeLockNotHeld)

	w = ts.do(t, c.Token, http.MethodGet, "/api/v1/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), notebook.ErrCodeDocNotFound)

	w = ts.do(t, c.Token, http.MethodPost, "/api/v1/documents", gin.H{"title": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, c.Token, http.MethodGet, "/api/v1/documents/"+doc.ID+"/fields?since=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, c.Token, http.MethodPost, "/api/v1/documents/"+doc.ID+"/save", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEditSessionEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice := ts.client(t, "alice")
	doc := ts.createDoc(t, alice)

	var navigated string
	s, editors, _, err := alice.OpenSession(ctx, doc.ID,
		editsession.WithNavigator(editsession.NavigatorFunc(func(url string) { navigated = url })))
	require.NoError(t, err)

	state, err := s.RequestEditLock(ctx)
	require.NoError(t, err)
	require.Equal(t, editsession.Held, state)

	// 其他编辑者与无权限用户被拒绝
	bobSession, _, _, err := ts.client(t, "bob").OpenSession(ctx, doc.ID)
	require.NoError(t, err)
	state, err = bobSession.RequestEditLock(ctx)
	assert.ErrorIs(t, err, editsession.ErrLockDenied)
	assert.Equal(t, editsession.DeniedByOtherEditor, state)
	assert.Equal(t, "alice", bobSession.State().CurrentEditorUsername)

	carolSession, _, _, err := ts.client(t, "carol").OpenSession(ctx, doc.ID)
	require.NoError(t, err)
	state, _ = carolSession.RequestEditLock(ctx)
	assert.Equal(t, editsession.DeniedNoPermission, state)

	obs, passage, media := doc.Fields[0].ID, doc.Fields[1].ID, doc.Fields[2].ID
	editors[obs].Input(editsession.TextValue(editsession.KindText, "confluent at 80%"))
	editors[media].Input(editsession.ChoiceValue("DMEM", "FBS"))

	report, err := s.Autosave(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Failures())
	assert.False(t, s.IsDirty(obs))

	// 服务端校验失败不会重新标脏
	editors[passage].Input(editsession.TextValue(editsession.KindNumber, "four"))
	report, err = s.Autosave(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Attempts, 1)
	assert.Contains(t, report.Attempts[0].ValidationError, "not a number")
	assert.False(t, s.IsDirty(passage))

	editors[passage].Input(editsession.TextValue(editsession.KindNumber, "4"))
	outcome, err := s.Save(ctx, editsession.SaveOptions{Close: true, Unlock: true})
	require.NoError(t, err)
	assert.Equal(t, editsession.SavedWithChange, outcome)
	assert.Equal(t, "/documents/"+doc.ID, navigated)
	assert.Equal(t, editsession.NoLock, s.LockState())

	// 锁已释放，bob 可以获得
	state, err = bobSession.RequestEditLock(ctx)
	require.NoError(t, err)
	assert.Equal(t, editsession.Held, state)

	saved, err := alice.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, "confluent at 80%", saved.Fields[0].Value)
	assert.Equal(t, "4", saved.Fields[1].Value)
	assert.Equal(t, "DMEM,FBS", saved.Fields[2].Value)
	assert.Equal(t, editsession.StatusViewMode, saved.EditStatus)

	w := ts.do(t, alice.Token, http.MethodGet, "/api/v1/documents/"+doc.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries []audit.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	var actions []audit.AuditAction
	for _, e := range body.Entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []audit.AuditAction{
		audit.ActionDocumentCreated,
		audit.ActionLockGranted,
		audit.ActionLockDenied,
		audit.ActionLockDenied,
		audit.ActionDocumentSaved,
		audit.ActionDocumentUnlocked,
		audit.ActionLockGranted,
	}, actions)
}

func TestResyncPicksUpRemoteChanges(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice := ts.client(t, "alice")
	doc := ts.createDoc(t, alice)

	s, editors, _, err := alice.OpenSession(ctx, doc.ID)
	require.NoError(t, err)
	_, err = s.RequestEditLock(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnsureFieldsSynchronized(ctx, false))

	// 另一个客户端（同一用户的另一窗口）新增字段
	w := ts.do(t, alice.Token, http.MethodPost, "/api/v1/documents/"+doc.ID+"/fields",
		gin.H{"name": "Incubator", "kind": "string", "value": "B2"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, alice.Token, http.MethodDelete, "/api/v1/fields/"+doc.Fields[2].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, s.EnsureFieldsSynchronized(ctx, true))
	ids := s.FieldIDs()
	assert.Len(t, ids, 3)
	assert.NotContains(t, ids, doc.Fields[2].ID)
	_, ok := s.Field(doc.Fields[2].ID)
	assert.False(t, ok)
	assert.Equal(t, "3", editors[doc.Fields[1].ID].Peek().Text)
}

func TestAuditDaysValidation(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t, "alice")
	w := ts.do(t, c.Token, http.MethodGet, "/api/v1/documents/x/audit?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
