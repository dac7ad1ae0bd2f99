package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/eln-editsession/pkg/docstore"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

// fakeServer 内存版文档服务
type fakeServer struct {
	mu        sync.Mutex
	lock      editsession.LockResponse
	values    map[string]string
	saves     []bool
	unlocks   int
	created   *docstore.CreateDocumentRequest
	authHeads []string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{
		lock:   editsession.LockResponse{Status: editsession.StatusEditMode},
		values: map[string]string{"f1": "first draft", "f2": "1"},
	}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.authHeads = append(fs.authHeads, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/api/v1/auth/login":
		var in docstore.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"UNAUTHORIZED","message":"invalid credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(docstore.LoginResponse{Token: "tok-" + in.Username, Username: in.Username})
	case r.URL.Path == "/api/v1/documents" && r.Method == http.MethodPost:
		var in docstore.CreateDocumentRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		fs.created = &in
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(docstore.Document{ID: "doc-new", Title: in.Title, Version: 1})
	case r.URL.Path == "/api/v1/documents/doc-1":
		_ = json.NewEncoder(w).Encode(docstore.Document{
			ID: "doc-1", Title: "Assay", Owner: "alice", Version: 1,
			EditStatus: editsession.StatusViewMode,
			Fields: []docstore.Field{
				{ID: "f1", Name: "Notes", Kind: editsession.KindText, Value: fs.values["f1"]},
				{ID: "f2", Name: "Count", Kind: editsession.KindNumber, Value: fs.values["f2"]},
			},
		})
	case r.URL.Path == "/api/v1/documents/doc-1/edit-lock":
		_ = json.NewEncoder(w).Encode(fs.lock)
	case r.URL.Path == "/api/v1/documents/doc-1/fields":
		_, _ = w.Write([]byte(`{"fields":[]}`))
	case strings.HasPrefix(r.URL.Path, "/api/v1/fields/"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/fields/"), "/autosave")
		var in docstore.AutosaveRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Kind == editsession.KindNumber && strings.Trim(in.Value, "0123456789.") != "" {
			_, _ = w.Write([]byte(`{"success":false,"validationError":"Count: not a number"}`))
			return
		}
		fs.values[id] = in.Value
		_, _ = w.Write([]byte(`{"success":true}`))
	case r.URL.Path == "/api/v1/documents/doc-1/save":
		var in docstore.SaveRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		fs.saves = append(fs.saves, in.Unlock)
		_, _ = w.Write([]byte(`{"success":true,"contentChanged":true,"redirectUrl":"/documents/doc-1"}`))
	case r.URL.Path == "/api/v1/documents/doc-1/unlock":
		fs.unlocks++
		_, _ = w.Write([]byte(`{"success":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type runResult struct {
	stdout, stderr string
	err            error
}

func run(t *testing.T, srv *httptest.Server, configPath, stdin string, args ...string) runResult {
	t.Helper()
	t.Setenv("ELN_SERVER_URL", "")
	t.Setenv("ELN_TOKEN", "")
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--server-url", srv.URL, "--config", configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return runResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func TestLoginSavesToken(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	res := run(t, srv, cfgPath, "", "login", "-u", "alice", "--password", "pw")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "alice")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var saved Config
	require.NoError(t, yaml.Unmarshal(data, &saved))
	assert.Equal(t, "tok-alice", saved.Token)
	assert.Equal(t, "alice", saved.Username)

	res = run(t, srv, cfgPath, "", "login", "-u", "alice", "--password", "wrong")
	assert.Error(t, res.err)
}

func TestConfigFileAutosavePolicy(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("token: abc\nautosave:\n  interval: 3s\n  max_parallel_writes: 2\n"), 0600))

	root := newRootCmd()
	root.Flags().AddFlagSet(root.PersistentFlags())
	require.NoError(t, root.Flags().Set("config", cfgPath))
	t.Setenv("ELN_TOKEN", "")
	cfg := LoadConfig(root)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "3s", cfg.Autosave.Interval.String())
	assert.Equal(t, 2, cfg.Autosave.MaxParallelWrites)
	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)

	t.Setenv("ELN_TOKEN", "from-env")
	assert.Equal(t, "from-env", LoadConfig(root).Token)
}

func TestDocCreate(t *testing.T) {
	fs, srv := newFakeServer(t)
	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), "", "doc", "create",
		"--title", "Buffer prep",
		"--field", "Notes:text",
		"--field", "pH:number!",
		"--field", "Salt:radio:NaCl|KCl",
		"--writer", "bob")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "doc-new")

	require.NotNil(t, fs.created)
	assert.Equal(t, []string{"bob"}, fs.created.Writers)
	assert.Equal(t, []docstore.FieldSpec{
		{Name: "Notes", Kind: editsession.KindText},
		{Name: "pH", Kind: editsession.KindNumber, Mandatory: true},
		{Name: "Salt", Kind: editsession.KindRadio, Options: []string{"NaCl", "KCl"}},
	}, fs.created.Fields)
}

func TestParseFieldSpecErrors(t *testing.T) {
	for _, raw := range []string{"notes", ":text", "notes:blob"} {
		_, err := parseFieldSpec(raw)
		assert.Error(t, err, raw)
	}
}

func TestEditSetAndClose(t *testing.T) {
	fs, srv := newFakeServer(t)
	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), "",
		"edit", "doc-1", "--set", "notes=final text", "--set", "Count=5", "--close")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "saved_with_change")
	assert.Contains(t, res.stderr, "→ /documents/doc-1")
	assert.Equal(t, "final text", fs.values["f1"])
	assert.Equal(t, "5", fs.values["f2"])
	assert.Equal(t, []bool{true}, fs.saves)
}

func TestEditAutosaveOnly(t *testing.T) {
	fs, srv := newFakeServer(t)
	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), "",
		"edit", "doc-1", "--set", "Count=lots", "--unlock")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "f2: rejected (Count: not a number)")
	assert.Equal(t, "1", fs.values["f2"])
	assert.Empty(t, fs.saves)
	assert.Equal(t, 1, fs.unlocks)
}

func TestEditUnknownField(t *testing.T) {
	_, srv := newFakeServer(t)
	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), "", "edit", "doc-1", "--set", "missing=1")
	assert.ErrorIs(t, res.err, editsession.ErrUnknownField)
}

func TestEditDenied(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.lock = editsession.LockResponse{Status: editsession.StatusOtherEditing, EditorUsername: "bob"}

	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), "", "edit", "doc-1", "--set", "notes=x")
	assert.ErrorIs(t, res.err, editsession.ErrLockDenied)
	assert.Contains(t, res.stderr, "! Document is being edited by bob")
}

func TestEditInteractive(t *testing.T) {
	fs, srv := newFakeServer(t)
	script := "set notes observed crystals\nshow\nbogus\nsave\nquit\n"
	res := run(t, srv, filepath.Join(t.TempDir(), "c.yaml"), script, "edit", "doc-1", "-i", "--unlock")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "observed crystals", fs.values["f1"])
	assert.Equal(t, []bool{false}, fs.saves)
	assert.Equal(t, 1, fs.unlocks)
	assert.Contains(t, res.stdout, "lock=held")
	assert.Contains(t, res.stdout, "saved_with_change")
	assert.Contains(t, res.stderr, `unknown command "bogus"`)
}
