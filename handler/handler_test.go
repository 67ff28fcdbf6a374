package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"querybridge/backend"
	"querybridge/manager"
	"querybridge/metrics"
	"querybridge/testutil"
)

func TestMain(m *testing.M) {
	testutil.RunHelperIfRequested()
	os.Exit(m.Run())
}

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	result  *backend.Result
	err     error
}

func (f *fakeRunner) Run(_ context.Context, query string) (*backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func (f *fakeRunner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func newTestRouter(t *testing.T, runner Runner, opts Options) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	if opts.Program == "" {
		opts.Program = "posts"
	}
	opts.Runner = runner
	opts.Metrics = m
	return NewRouter(NewBridgeHandler(opts), m), m
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNonPostIsNotFound(t *testing.T) {
	runner := &fakeRunner{result: &backend.Result{}}
	router, m := newTestRouter(t, runner, Options{})

	methods := []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions, "PROPFIND"}
	paths := []string{"/", "/query", "/a/b/c?x=1", "//double/../slash"}
	for _, method := range methods {
		for _, path := range paths {
			req := httptest.NewRequest(method, path, strings.NewReader(`{"query":"x"}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", method, path)
			assert.Equal(t, NotFoundBody, rec.Body.String(), "%s %s", method, path)
		}
	}
	assert.Empty(t, runner.calls())
	assert.Equal(t, float64(len(methods)*len(paths)), promtest.ToFloat64(m.NotFoundTotal))
}

func TestPostOnAnyPathRunsProgramOnce(t *testing.T) {
	runner := &fakeRunner{result: &backend.Result{Stdout: []byte(`[]`)}}
	router, _ := newTestRouter(t, runner, Options{})

	for _, path := range []string{"/", "/search", "/deep/nested/path", "//x/../y"} {
		rec := post(router, path, `{"query":"q"}`)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"q", "q", "q", "q"}, runner.calls())
}

func TestQueryIsTrimmed(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"query":" hello "}`, "hello"},
		{`{"query":"\t multi word \n"}`, "multi word"},
		{`{"query":"   "}`, ""},
		{`{"query":""}`, ""},
		{`{"query":"\ufeffbom"}`, "bom"},
		{`{"query":"\u0085nel\u0085"}`, "\u0085nel\u0085"},
		{`{"query":"\u00a0\u2028nbsp\u3000"}`, "nbsp"},
		{`{"query":"select * from posts;","extra":1}`, "select * from posts;"},
	}
	for _, tt := range tests {
		runner := &fakeRunner{result: &backend.Result{}}
		router, _ := newTestRouter(t, runner, Options{})

		rec := post(router, "/", tt.body)
		require.Equal(t, http.StatusOK, rec.Code, tt.body)
		assert.Equal(t, []string{tt.want}, runner.calls(), tt.body)
	}
}

func TestSuccessRelaysStdout(t *testing.T) {
	runner := &fakeRunner{result: &backend.Result{Stdout: []byte("not json at all\n")}}
	router, m := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "not json at all\n", rec.Body.String())
	assert.Equal(t, float64(1), promtest.ToFloat64(m.Invocations.WithLabelValues("posts", metrics.OutcomeSuccess)))
}

func TestFailureRelaysStderr(t *testing.T) {
	var console bytes.Buffer
	runner := &fakeRunner{result: &backend.Result{ExitCode: 3, Stdout: []byte("ignored"), Stderr: []byte("syntax error")}}
	router, m := newTestRouter(t, runner, Options{LogFailures: true, Console: &console})

	rec := post(router, "/", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEqual(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "syntax error", rec.Body.String())
	assert.Equal(t, "syntax error\n", console.String())
	assert.Equal(t, float64(1), promtest.ToFloat64(m.Invocations.WithLabelValues("posts", metrics.OutcomeFailure)))
}

func TestFailureNotEchoedByDefault(t *testing.T) {
	var console bytes.Buffer
	runner := &fakeRunner{result: &backend.Result{ExitCode: 1, Stderr: []byte("boom")}}
	router, _ := newTestRouter(t, runner, Options{Console: &console})

	rec := post(router, "/", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, console.String())
}

func TestSpawnErrorIsServerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("failed to start program ./src/example: no such file")}
	router, m := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to start program ./src/example: no such file", rec.Body.String())
	assert.Equal(t, float64(1), promtest.ToFloat64(m.Invocations.WithLabelValues("posts", metrics.OutcomeSpawnError)))
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{"query":`,
		`[]`,
		`"query"`,
		`{}`,
		`{"q":"x"}`,
		`{"query":5}`,
		`{"query":null}`,
	}
	for _, body := range bodies {
		runner := &fakeRunner{result: &backend.Result{}}
		router, m := newTestRouter(t, runner, Options{})

		rec := post(router, "/", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "Bad Request"), body)
		assert.Empty(t, runner.calls(), body)
		assert.Equal(t, float64(1), promtest.ToFloat64(m.RejectedTotal.WithLabelValues("invalid_body")), body)
	}
}

func TestOversizeBodyIsBadRequest(t *testing.T) {
	runner := &fakeRunner{result: &backend.Result{}}
	router, _ := newTestRouter(t, runner, Options{MaxBodyBytes: 16})

	rec := post(router, "/", `{"query":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.calls())
}

func TestRequestID(t *testing.T) {
	runner := &fakeRunner{result: &backend.Result{}}
	router, _ := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"x"}`)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	const id = "0b0e7f6e-6c1f-4c1a-9a0b-3f1d2f0c9d11"
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"x"}`))
	req.Header.Set(requestIDHeader, id)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))
}

func TestClientGoneWhileWaitingForSlot(t *testing.T) {
	cm := manager.NewConcurrencyManager(map[string]int{"posts": 1}, 0)
	defer cm.Shutdown()
	release, err := cm.Acquire(context.Background(), "posts")
	require.NoError(t, err)
	defer release()

	runner := &fakeRunner{result: &backend.Result{}}
	router, _ := newTestRouter(t, runner, Options{Concurrency: cm})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"x"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, runner.calls())
}

func TestConcurrencySlotReleased(t *testing.T) {
	cm := manager.NewConcurrencyManager(map[string]int{"posts": 1}, 0)
	defer cm.Shutdown()

	runner := &fakeRunner{result: &backend.Result{}}
	router, _ := newTestRouter(t, runner, Options{Concurrency: cm})

	for i := 0; i < 3; i++ {
		rec := post(router, "/", `{"query":"x"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, manager.Stats{}, cm.Stats("posts"))
}

// The tests below spawn real processes: the test binary re-executed as a fake program.

func TestEndToEndArgument(t *testing.T) {
	runner := backend.NewRunner(testutil.HelperProgram(t, testutil.ModeArgs), 0)
	router, _ := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query": " hello "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["hello"]`, rec.Body.String())
}

func TestEndToEndSuccess(t *testing.T) {
	t.Setenv(testutil.HelperStdoutEnv, `{"ok":true}`)
	runner := backend.NewRunner(testutil.HelperProgram(t, testutil.ModeStdout), 0)
	router, _ := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"anything"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
}

func TestEndToEndFailure(t *testing.T) {
	t.Setenv(testutil.HelperStderrEnv, "boom")
	runner := backend.NewRunner(testutil.HelperProgram(t, testutil.ModeFail), 0)
	router, _ := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"anything"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", rec.Body.String())
}

func TestEndToEndSpawnFailure(t *testing.T) {
	runner := backend.NewRunner(filepath.Join(t.TempDir(), "example"), 0)
	router, _ := newTestRouter(t, runner, Options{})

	rec := post(router, "/", `{"query":"anything"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to start program")
}

func TestEndToEndNoCaching(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	t.Setenv(testutil.HelperCountEnv, countFile)
	runner := backend.NewRunner(testutil.HelperProgram(t, testutil.ModeCount), 0)
	router, _ := newTestRouter(t, runner, Options{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"query":"same"}`))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `["same"]`, string(body))
	}

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, NotFoundBody, string(body))

	counts, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "1\n1\n", string(counts))
}
