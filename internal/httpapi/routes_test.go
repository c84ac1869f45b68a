package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexsync/internal/storage"
	"flexsync/internal/subscriptions"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := storage.OpenSQLite(path)
	require.NoError(t, err, "open sqlite")

	store, err := subscriptions.Open(context.Background(), db, nil)
	require.NoError(t, err, "open store")
	t.Cleanup(func() { _ = store.Close() })

	server := NewServer(store)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestHandleLatestOnFreshStore(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/subscriptions/latest")
	require.NoError(t, err, "latest request")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view setView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, int64(0), view.Version)
	assert.Equal(t, "Pending", view.State)
	assert.Empty(t, view.Subscriptions)
}

func TestHandleDeclareThenUpdateState(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body, err := json.Marshal(declareRequest{
		Subscriptions: []struct {
			Name            *string `json:"name"`
			ObjectClassName string  `json:"objectClassName"`
			Query           string  `json:"query"`
		}{
			{ObjectClassName: "Table", Query: "TRUEPREDICATE"},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/subscriptions", "application/json", bytes.NewReader(body))
	require.NoError(t, err, "declare request")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var declared setView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&declared))
	assert.Equal(t, int64(1), declared.Version)
	assert.Equal(t, "Pending", declared.State)
	assert.Len(t, declared.Subscriptions, 1)

	stateBody, err := json.Marshal(updateStateRequest{Version: declared.Version, State: "Complete"})
	require.NoError(t, err)

	stateResp, err := http.Post(server.URL+"/subscriptions/state", "application/json", bytes.NewReader(stateBody))
	require.NoError(t, err, "update state request")
	defer stateResp.Body.Close()
	require.Equal(t, http.StatusOK, stateResp.StatusCode)

	var committed setView
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&committed))
	assert.Equal(t, "Complete", committed.State)
}

func TestHandleByVersionUnknownReturnsNotFound(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/subscriptions/version?version=99")
	require.NoError(t, err, "version request")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleExtJSONOnEmptySet(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/subscriptions/ext_json?version=0")
	require.NoError(t, err, "ext_json request")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Empty(t, decoded)
}

func TestHandleExtJSONAfterDeclare(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	body, err := json.Marshal(declareRequest{
		Subscriptions: []struct {
			Name            *string `json:"name"`
			ObjectClassName string  `json:"objectClassName"`
			Query           string  `json:"query"`
		}{
			{ObjectClassName: "Dog", Query: "age > 3"},
		},
	})
	require.NoError(t, err)

	declareResp, err := http.Post(server.URL+"/subscriptions", "application/json", bytes.NewReader(body))
	require.NoError(t, err, "declare request")
	defer declareResp.Body.Close()
	require.Equal(t, http.StatusOK, declareResp.StatusCode)

	var declared setView
	require.NoError(t, json.NewDecoder(declareResp.Body).Decode(&declared))

	resp, err := http.Get(server.URL + "/subscriptions/ext_json?version=" + strconv.FormatInt(declared.Version, 10))
	require.NoError(t, err, "ext_json request")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, map[string]string{"Dog": "(age > 3)"}, decoded)
}
