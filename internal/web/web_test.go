package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grove-sync/grove/api"
	"github.com/grove-sync/grove/internal/session"
	"github.com/grove-sync/grove/internal/vfs"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.ServeSession, *vfs.MemBackend) {
	t.Helper()
	backend := vfs.NewMemBackend()
	files := map[string]string{
		"/proj/default.project.json": `{"name": "Root", "tree": {"$path": "src"}}`,
		"/proj/src/Greeter.lua":      "print(1)",
	}
	for path, content := range files {
		require.NoError(t, backend.WriteFile(path, []byte(content)))
	}

	sess, err := session.New(vfs.New(backend), "/proj", session.Options{
		Debounce: 10 * time.Millisecond,
		Logger:   hclog.NewNullLogger(),
		Version:  "test",
	})
	require.NoError(t, err)
	sess.Start(context.Background())
	t.Cleanup(sess.Stop)

	ts := httptest.NewServer(NewServer(sess, hclog.NewNullLogger()).Handler())
	t.Cleanup(ts.Close)
	return ts, sess, backend
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestWeb_Info(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	var info api.InfoResponse
	status := getJSON(t, ts.URL+"/api/info", &info)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Root", info.ProjectName)
	assert.Equal(t, sess.Info().SessionID, info.SessionID)
	assert.Equal(t, string(sess.Info().RootRef), info.RootRef)
	assert.Equal(t, "test", info.Version)
}

func TestWeb_SubscribeZeroReturnsWholeTree(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	var resp api.SubscribeResponse
	status := getJSON(t, ts.URL+"/api/subscribe/0", &resp)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Messages, 1)

	added := resp.Messages[0].Added
	root, ok := added[string(sess.Info().RootRef)]
	require.True(t, ok)
	assert.Equal(t, "Root", root.Name)
	assert.Len(t, added, 2, "root plus Greeter")
}

func TestWeb_ReadAndMissing(t *testing.T) {
	ts, sess, _ := newTestServer(t)
	rootRef := string(sess.Info().RootRef)

	var resp api.ReadResponse
	status := getJSON(t, fmt.Sprintf("%s/api/read/%s,bogus", ts.URL, rootRef), &resp)
	assert.Equal(t, http.StatusOK, status)

	require.Contains(t, resp.Instances, rootRef)
	assert.Equal(t, "Root", resp.Instances[rootRef].Name)
	assert.Equal(t, []string{"bogus"}, resp.Missing)
}

func TestWeb_WriteRoundTrip(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	refs := sess.Tree().GetByPath("/proj/src/Greeter.lua")
	require.Len(t, refs, 1)

	name := "Renamed"
	body, err := json.Marshal(api.WriteRequest{
		SessionID: sess.Info().SessionID,
		Updated:   []api.UpdatedView{{Ref: string(refs[0]), ChangedName: &name}},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/write", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.WriteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, uint64(1), out.Cursor)

	inst, ok := sess.Tree().GetCopy(refs[0])
	require.True(t, ok)
	assert.Equal(t, "Renamed", inst.Name)

	// The write is observable through subscribe.
	var sub api.SubscribeResponse
	getJSON(t, ts.URL+"/api/subscribe/0", &sub)
	assert.Equal(t, out.Cursor, sub.Cursor)
}

func TestWeb_WriteInvalidBatch(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	body, err := json.Marshal(api.WriteRequest{
		SessionID: sess.Info().SessionID,
		Removed:   []string{"bogus"},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/write", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "batchInvalid", out.Kind)
}

func TestWeb_WriteSessionMismatch(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body, _ := json.Marshal(api.WriteRequest{SessionID: "stale"})
	resp, err := http.Post(ts.URL+"/api/write", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWeb_OpenKnownAndUnknown(t *testing.T) {
	ts, sess, _ := newTestServer(t)
	t.Setenv("EDITOR", "")

	refs := sess.Tree().GetByPath("/proj/src/Greeter.lua")
	require.Len(t, refs, 1)

	resp, err := http.Post(fmt.Sprintf("%s/api/open/%s", ts.URL, refs[0]), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.OpenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "/proj/src/Greeter.lua", out.Path)

	resp, err = http.Post(ts.URL+"/api/open/bogus", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeb_BadCursor(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/subscribe/notanumber")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
