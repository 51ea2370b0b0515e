package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kuitang/entrystore/internal/db"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/obs"
	"github.com/kuitang/entrystore/internal/ratelimit"
	"github.com/kuitang/entrystore/internal/testdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testServer struct {
	*httptest.Server
	store *db.Store
}

func newTestServer(t testing.TB, limiter *ratelimit.RateLimiter) *testServer {
	t.Helper()
	store, err := testdb.NewStoreInMemory()
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Entries: entries.NewService(store),
		Limiter: limiter,
	}))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return &testServer{Server: srv, store: store}
}

func (s *testServer) do(t testing.TB, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decodeEntry(t testing.TB, raw []byte) entries.Entry {
	t.Helper()
	var e entries.Entry
	require.NoError(t, json.Unmarshal(raw, &e), "body: %s", raw)
	return e
}

func decodeEntries(t testing.TB, raw []byte) []entries.Entry {
	t.Helper()
	var es []entries.Entry
	require.NoError(t, json.Unmarshal(raw, &es), "body: %s", raw)
	return es
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"Hello":"World"}`, string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, _ = srv.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddThenGet_Scenario(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodPost, "/add", "abc", map[string]string{"data": "Test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decodeEntry(t, body)
	require.Equal(t, "test", created.Data)
	require.Equal(t, "abc", created.UserID)
	require.Positive(t, created.ID)
	require.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.ElementsMatch(t, []string{"id", "data", "user_id", "created_at"}, keys(raw))

	path := fmt.Sprintf("/get/%d", created.ID)
	resp, body = srv.do(t, http.MethodGet, path, "abc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeEntry(t, body)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, created.Data, got.Data)
	require.True(t, created.CreatedAt.Equal(got.CreatedAt))

	resp, body = srv.do(t, http.MethodGet, path, "xyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNoAuthorization_AlwaysEmptyList(t *testing.T) {
	srv := newTestServer(t, nil)
	_, body := srv.do(t, http.MethodPost, "/add", "abc", map[string]string{"data": "mine"})
	existing := decodeEntry(t, body)

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, fmt.Sprintf("/get/%d", existing.ID), nil},
		{http.MethodGet, "/get/999999", nil},
		{http.MethodPost, "/search", map[string]string{"query": "mine"}},
		{http.MethodPost, "/add", map[string]string{"data": "x"}},
		{http.MethodPost, "/add_batch", []map[string]string{{"data": "x"}}},
	}
	for _, tc := range cases {
		resp, body := srv.do(t, tc.method, tc.path, "", tc.body)
		require.Equal(t, http.StatusOK, resp.StatusCode, "%s %s", tc.method, tc.path)
		require.JSONEq(t, `[]`, string(body), "%s %s", tc.method, tc.path)
	}

	var n int
	require.NoError(t, srv.store.DB().QueryRow("SELECT COUNT(*) FROM entries").Scan(&n))
	require.Equal(t, 1, n)
}

func TestEmptyBearer_TreatedAsAnonymous(t *testing.T) {
	srv := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/add", strings.NewReader(`{"data":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))
}

func TestGet_NotFoundAndBadID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodGet, "/get/424242", "abc", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"error":"entry not found"}`, string(body))

	for _, id := range []string{"abc", "1.5", "99999999999999999999"} {
		resp, body = srv.do(t, http.MethodGet, "/get/"+id, "abc", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
		require.JSONEq(t, `{"error":"invalid entry id"}`, string(body))
	}
}

func TestMalformedJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/add", "/search", "/add_batch"} {
		resp, body := srv.do(t, http.MethodPost, path, "abc", "{not json")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		var er ErrorResponse
		require.NoError(t, json.Unmarshal(body, &er))
		require.True(t, strings.HasPrefix(er.Error, "invalid JSON: "), er.Error)
	}

	resp, _ := srv.do(t, http.MethodPost, "/add_batch", "abc", map[string]string{"data": "not a list"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMissingOrNullFields_Rejected(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		path, body, want string
	}{
		{"/add", `null`, "request body must not be null"},
		{"/add", `{}`, "data is required"},
		{"/add", `{"data":null}`, "data is required"},
		{"/search", ` null `, "request body must not be null"},
		{"/search", `{}`, "query is required"},
		{"/search", `{"query":null}`, "query is required"},
		{"/add_batch", `null`, "request body must not be null"},
		{"/add_batch", `[{"data":"ok"},{}]`, "batch item 1: data is required"},
		{"/add_batch", `[{}, null, {"data":"ok"}]`, "batch item 0: data is required"},
	}
	for _, token := range []string{"abc", ""} {
		for _, tc := range cases {
			resp, body := srv.do(t, http.MethodPost, tc.path, token, tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s token=%q", tc.path, tc.body, token)
			var er ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			require.Equal(t, tc.want, er.Error, "%s %s", tc.path, tc.body)
		}
	}

	var n int
	require.NoError(t, srv.store.DB().QueryRow("SELECT COUNT(*) FROM entries").Scan(&n))
	require.Zero(t, n)

	resp, body := srv.do(t, http.MethodPost, "/add", "abc", `{"data":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "", decodeEntry(t, body).Data)

	resp, body = srv.do(t, http.MethodPost, "/search", "abc", `{"query":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeEntries(t, body), 1)

	resp, body = srv.do(t, http.MethodPost, "/add_batch", "abc", `[]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))
}

func TestBodyTooLarge(t *testing.T) {
	store, err := testdb.NewStoreInMemory()
	require.NoError(t, err)
	defer store.Close()
	router := NewRouter(RouterConfig{Entries: entries.NewService(store)})

	big := `{"data":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(big))
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownFieldsIgnored(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodPost, "/add", "abc", `{"data":"Keep","extra":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "keep", decodeEntry(t, body).Data)
}

func TestSearchAndBatch(t *testing.T) {
	srv := newTestServer(t, nil)

	batch := make([]map[string]string, 15)
	for i := range batch {
		batch[i] = map[string]string{"data": fmt.Sprintf("Quick Fox %d", i)}
	}
	resp, body := srv.do(t, http.MethodPost, "/add_batch", "abc", batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	added := decodeEntries(t, body)
	require.Len(t, added, 15)
	for i, e := range added {
		require.Equal(t, fmt.Sprintf("quick fox %d", i), e.Data)
	}

	_, body = srv.do(t, http.MethodPost, "/search", "abc", map[string]string{"query": "FOX"})
	found := decodeEntries(t, body)
	require.Len(t, found, entries.SearchLimit)
	require.Equal(t, added[0].ID, found[0].ID)

	_, body = srv.do(t, http.MethodPost, "/search", "xyz", map[string]string{"query": "FOX"})
	require.JSONEq(t, `[]`, string(body))

	_, body = srv.do(t, http.MethodPost, "/add_batch", "abc", []map[string]string{})
	require.JSONEq(t, `[]`, string(body))
}

func TestAddBatch_TooLarge(t *testing.T) {
	srv := newTestServer(t, nil)

	batch := make([]map[string]string, entries.MaxBatchSize+1)
	for i := range batch {
		batch[i] = map[string]string{"data": "x"}
	}
	resp, body := srv.do(t, http.MethodPost, "/add_batch", "abc", batch)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "batch exceeds")
}

func TestIsolation_HTTP(t *testing.T) {
	srv := newTestServer(t, nil)

	rapid.Check(t, func(rt *rapid.T) {
		owner := rapid.StringMatching(`[a-z0-9]{4,12}`).Draw(rt, "owner")
		other := rapid.StringMatching(`[A-Z0-9]{4,12}`).Draw(rt, "other")
		data := rapid.StringMatching(`[A-Za-z ]{1,30}`).Draw(rt, "data")

		_, body := srv.do(t, http.MethodPost, "/add", owner, map[string]string{"data": data})
		e := decodeEntry(t, body)
		if e.Data != strings.ToLower(data) || e.UserID != owner {
			rt.Fatalf("created %+v from %q", e, data)
		}

		_, body = srv.do(t, http.MethodGet, fmt.Sprintf("/get/%d", e.ID), other, nil)
		if strings.TrimSpace(string(body)) != "[]" {
			rt.Fatalf("other token read entry: %s", body)
		}
		_, body = srv.do(t, http.MethodPost, "/search", other, map[string]string{"query": data})
		if strings.TrimSpace(string(body)) != "[]" {
			rt.Fatalf("other token searched entry: %s", body)
		}
	})
}

func TestStorageFailure_HidesDetails(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	srv := newTestServer(t, nil)
	require.NoError(t, srv.store.Close())

	resp, body := srv.do(t, http.MethodPost, "/add", "abc", map[string]string{"data": "x"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"error":"internal error"}`, string(body))
	require.Contains(t, buf.String(), "api: request failed")
	require.NotContains(t, buf.String(), "Bearer abc")
}

func TestHealth_ReportsStorage(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := srv.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"healthy"}`, string(body))

	require.NoError(t, srv.store.Close())
	resp, body = srv.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.JSONEq(t, `{"error":"storage unavailable"}`, string(body))
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/add", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chat.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://chat.example", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	require.Equal(t, "authorization, content-type", resp.Header.Get("Access-Control-Allow-Headers"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chat.example")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "https://chat.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit_PerPrincipal(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		resp, _ := srv.do(t, http.MethodPost, "/search", "abc", map[string]string{"query": ""})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := srv.do(t, http.MethodPost, "/search", "abc", map[string]string{"query": ""})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = srv.do(t, http.MethodPost, "/search", "xyz", map[string]string{"query": ""})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
