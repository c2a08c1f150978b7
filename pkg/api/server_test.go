package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/supervisor"
	"github.com/cuemby/ledgertap/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeApplier acknowledges mutations immediately, or fails when scripted.
type fakeApplier struct {
	upserts []string
	removes []string
	err     error
}

func (f *fakeApplier) ApplyUpsert(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, id)
	return nil
}

func (f *fakeApplier) ApplyRemove(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.removes = append(f.removes, id)
	return nil
}

func (f *fakeApplier) WorkerCount() int {
	return len(f.upserts)
}

func newTestServer(t *testing.T) (*Server, *fakeApplier, *interest.Table) {
	t.Helper()
	table, err := interest.NewTable(nil)
	require.NoError(t, err)

	applier := &fakeApplier{}
	cfg := config.Default().Control
	srv := NewServer(table, applier, bus.New(16), cfg)
	return srv, applier, table
}

func b58(b byte) string {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p.String()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUpsertAndList(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/interests/upsert", map[string]interface{}{
		"interest_id":                  "I1",
		"transaction_accounts_include": []string{b58(1)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []string{"I1"}, applier.upserts)

	rec = doJSON(t, handler, http.MethodGet, "/interests", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, map[string]string{"I1": "active"}, listing)
}

func TestUpsertRejectsBadPubkey(t *testing.T) {
	srv, applier, _ := newTestServer(t)
	handler := srv.Handler()

	for _, accounts := range [][]string{
		{"not-base58-!!"},
		{"abc"}, // wrong width
	} {
		rec := doJSON(t, handler, http.MethodPost, "/interests/upsert", map[string]interface{}{
			"interest_id": "I1",
			"accounts":    accounts,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "accounts=%v", accounts)

		var resp mutationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
	}
	assert.Empty(t, applier.upserts, "invalid predicates must not reach the supervisor")
}

func TestUpsertRejectsEmptyPredicate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/interests/upsert", map[string]interface{}{
		"interest_id":                   "I1",
		"transaction_accounts_required": []string{b58(1)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertSupervisorUnavailable(t *testing.T) {
	srv, applier, table := newTestServer(t)
	applier.err = fmt.Errorf("%w: busy", supervisor.ErrUnavailable)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/interests/upsert", map[string]interface{}{
		"interest_id": "I1",
		"accounts":    []string{b58(1)},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The table keeps the entry; the supervisor realizes it on the next
	// mutation or restart.
	_, ok := table.Snapshot().Get("I1")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	srv, applier, table := newTestServer(t)
	handler := srv.Handler()

	_, err := table.Upsert("I1", types.Predicate{Accounts: types.NewPubkeySet(types.Pubkey{1})})
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodPost, "/interests/remove", map[string]interface{}{
		"interest_id": "I1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"I1"}, applier.removes)

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Count)
}

func TestRemoveUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/interests/remove", map[string]interface{}{
		"interest_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodEnforcement(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/interests", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/interests/upsert", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, table := newTestServer(t)
	_, err := table.Upsert("I1", types.Predicate{Accounts: types.NewPubkeySet(types.Pubkey{1})})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(1), resp["interests"])
}
