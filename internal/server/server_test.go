package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/labrunner/internal/config"
	"github.com/michaelbrown/labrunner/internal/execution"
	"github.com/michaelbrown/labrunner/internal/executor"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/grader"
	"github.com/michaelbrown/labrunner/internal/guard"
	"github.com/michaelbrown/labrunner/internal/limiter"
	"github.com/michaelbrown/labrunner/internal/sandbox"
	"github.com/michaelbrown/labrunner/internal/storage"
	"github.com/michaelbrown/labrunner/internal/storage/sqlite"
	"github.com/michaelbrown/labrunner/internal/submission"
)

// fakeSandbox "runs" programs by echoing their stdin, except for a few
// magic sources. A source containing "block_forever" waits for the
// caller to cancel.
type fakeSandbox struct {
	started       chan struct{}
	cancelled     chan struct{}
	startOnce     sync.Once
	cancelledOnce sync.Once
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{started: make(chan struct{}), cancelled: make(chan struct{})}
}

func (f *fakeSandbox) Exec(ctx context.Context, opts sandbox.ExecOpts) (*sandbox.ExecResult, error) {
	switch {
	case strings.Contains(opts.Source, "block_forever"):
		f.startOnce.Do(func() { close(f.started) })
		<-ctx.Done()
		f.cancelledOnce.Do(func() { close(f.cancelled) })
		return nil, ctx.Err()
	case strings.Contains(opts.Source, "while True"):
		return &sandbox.ExecResult{TimedOut: true, ExitCode: -1}, nil
	case strings.Contains(opts.Source, "1/0"):
		return &sandbox.ExecResult{Stderr: "ZeroDivisionError: division by zero\n", ExitCode: 1}, nil
	case strings.HasPrefix(opts.Source, "print('"):
		return &sandbox.ExecResult{Stdout: strings.TrimSuffix(strings.TrimPrefix(opts.Source, "print('"), "')") + "\n"}, nil
	}
	return &sandbox.ExecResult{Stdout: opts.Stdin + "\n"}, nil
}

func (f *fakeSandbox) Close() error { return nil }

type recordingPublisher struct {
	mu   sync.Mutex
	subs []*storage.Submission
}

func (p *recordingPublisher) PublishGraded(ctx context.Context, sub *storage.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, sub)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testEnv struct {
	srv       *httptest.Server
	store     *sqlite.SQLiteStore
	publisher *recordingPublisher
	sandbox   *fakeSandbox
}

func newTestEnv(t *testing.T, auth config.AuthConfig, lim *limiter.RateLimiter) *testEnv {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	catalog, err := exercise.New(
		&exercise.Exercise{
			ID:        "echo",
			Title:     "Echo",
			Language:  execution.LanguagePython,
			Solution:  "print(input())",
			TestCases: []execution.TestCase{{Input: "a", ExpectedOutput: "a"}, {Input: "b", ExpectedOutput: "b"}},
		},
		&exercise.Exercise{
			ID:          "limited",
			Title:       "Limited",
			Language:    execution.LanguagePython,
			MaxAttempts: 2,
			TestCases:   []execution.TestCase{{Input: "x", ExpectedOutput: "y"}},
		},
	)
	if err != nil {
		t.Fatalf("building catalog: %v", err)
	}

	log := zerolog.Nop()
	sb := newFakeSandbox()
	ex := executor.New(guard.NewDenylist(guard.DefaultPatterns()), sb, executor.Config{}, log)
	gr := grader.New(ex, grader.Config{}, log)
	pub := &recordingPublisher{}

	s := New(config.ServerConfig{MaxBodyBytes: 1 << 20}, auth, Deps{
		Coordinator: submission.New(ex, gr, 0),
		Catalog:     catalog,
		Store:       store,
		Publisher:   pub,
		Limiter:     lim,
		Logger:      log,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, publisher: pub, sandbox: sb}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var e map[string]string
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decoding error body %q: %v", body, err)
	}
	return e["error"]
}

func TestExecute(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/execute", "", map[string]string{"code": "print('Hello World')"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, body)
	}
	var out executeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Output != "Hello World\n" {
		t.Errorf("output = %q", out.Output)
	}
	if out.Outcome.Status() != execution.StatusCompleted {
		t.Errorf("outcome = %+v", out.Outcome)
	}
}

func TestExecuteErrors(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	tests := []struct {
		name    string
		body    map[string]string
		wantErr string
	}{
		{"empty code", map[string]string{"code": ""}, "No code provided"},
		{"unsupported language", map[string]string{"code": "console.log(1)", "language": "javascript"}, "Only Python is supported currently"},
		{"policy violation", map[string]string{"code": "import os\nos.system('ls')"}, "Security violation: usage of 'import os' is not allowed."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/execute", "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if got := decodeError(t, body); got != tt.wantErr {
				t.Errorf("error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestExecuteTimeoutAndRuntimeError(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	_, body := env.do(t, http.MethodPost, "/api/execute", "", map[string]string{"code": "while True: pass"})
	var out executeResponse
	json.Unmarshal(body, &out)
	if out.Output != "Error: Execution timed out (limit: 5s)." {
		t.Errorf("timeout output = %q", out.Output)
	}

	_, body = env.do(t, http.MethodPost, "/api/execute", "", map[string]string{"code": "x = 1/0"})
	json.Unmarshal(body, &out)
	if out.Output != "\nError:\nZeroDivisionError: division by zero\n" {
		t.Errorf("runtime error output = %q", out.Output)
	}
}

func TestExercises(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	resp, body := env.do(t, http.MethodGet, "/api/exercises", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "print(input())") {
		t.Error("exercise list leaks the solution")
	}
	var list []exercise.Exercise
	json.Unmarshal(body, &list)
	if len(list) != 2 {
		t.Errorf("got %d exercises", len(list))
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/exercises/echo", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("get echo: %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/exercises/missing", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing: %d", resp.StatusCode)
	}
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/exercises/echo/submit", "alice", map[string]string{"code": "print(input())"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body = %s", resp.StatusCode, body)
	}
	var sub storage.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Status != storage.StatusPassed || sub.PassedCount != 2 || sub.TotalCount != 2 || sub.UserID != "alice" {
		t.Errorf("submission = %+v", sub)
	}

	stored, err := env.store.GetSubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("stored submission: %v", err)
	}
	if stored.ExerciseID != "echo" {
		t.Errorf("stored = %+v", stored)
	}
	if len(env.publisher.subs) != 1 || env.publisher.subs[0].ID != sub.ID {
		t.Errorf("published = %+v", env.publisher.subs)
	}

	resp, body = env.do(t, http.MethodPost, "/api/exercises/echo/submit", "alice", map[string]string{"code": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty code: status = %d body = %s", resp.StatusCode, body)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/exercises/missing/submit", "alice", map[string]string{"code": "x"}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing exercise: %d", resp.StatusCode)
	}
}

func TestSubmitPolicyViolationIsGraded(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/exercises/echo/submit", "alice", map[string]string{"code": "import sys\nprint(input())"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sub storage.Submission
	json.Unmarshal(body, &sub)
	if sub.PassedCount != 0 || sub.TotalCount != 2 {
		t.Fatalf("counts = %d/%d", sub.PassedCount, sub.TotalCount)
	}
	for _, r := range sub.Results {
		if r.Error != "security violation: import sys" || r.ActualOutput != nil {
			t.Errorf("case %d = %+v", r.Index, r)
		}
	}
}

func TestSubmitAttemptLimit(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/exercises/limited/submit", "bob", map[string]string{"code": "print(input())"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("attempt %d: status = %d", i+1, resp.StatusCode)
		}
	}
	resp, body := env.do(t, http.MethodPost, "/api/exercises/limited/submit", "bob", map[string]string{"code": "print(input())"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("third attempt: status = %d", resp.StatusCode)
	}
	if !strings.Contains(decodeError(t, body), "attempt limit reached") {
		t.Errorf("body = %s", body)
	}

	// Another user is unaffected.
	if resp, _ := env.do(t, http.MethodPost, "/api/exercises/limited/submit", "carol", map[string]string{"code": "print(input())"}); resp.StatusCode != http.StatusCreated {
		t.Errorf("carol: status = %d", resp.StatusCode)
	}
}

func TestSubmissionsArePrivate(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	_, body := env.do(t, http.MethodPost, "/api/exercises/echo/submit", "alice", map[string]string{"code": "print(input())"})
	var sub storage.Submission
	json.Unmarshal(body, &sub)

	resp, body := env.do(t, http.MethodGet, "/api/submissions", "alice", nil)
	var list []storage.Submission
	json.Unmarshal(body, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("alice list: status = %d, %d items", resp.StatusCode, len(list))
	}

	_, body = env.do(t, http.MethodGet, "/api/submissions", "mallory", nil)
	json.Unmarshal(body, &list)
	if len(list) != 0 {
		t.Errorf("mallory sees %d submissions", len(list))
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/submissions/"+sub.ID, "alice", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("alice get: %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/submissions/"+sub.ID, "mallory", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("mallory get: %d", resp.StatusCode)
	}
}

func TestJWTIdentity(t *testing.T) {
	secret := "test-secret"
	env := newTestEnv(t, config.AuthConfig{JWTSecret: secret}, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/submissions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", resp.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "dave",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/exercises/echo/submit", strings.NewReader(`{"code":"print(input())"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-ID", "spoofed")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var sub storage.Submission
	json.NewDecoder(r.Body).Decode(&sub)
	if r.StatusCode != http.StatusCreated || sub.UserID != "dave" {
		t.Errorf("status = %d user = %q", r.StatusCode, sub.UserID)
	}

	bad, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "eve"}).SignedString([]byte("wrong"))
	req, _ = http.NewRequest(http.MethodGet, env.srv.URL+"/api/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d", r2.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, limiter.New(0, 0.001, 1))

	if resp, _ := env.do(t, http.MethodPost, "/api/execute", "frank", map[string]string{"code": "print('a')"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("first: %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/execute", "frank", map[string]string{"code": "print('a')"}); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second: %d, want 429", resp.StatusCode)
	}
	// Reads are not throttled.
	if resp, _ := env.do(t, http.MethodGet, "/api/exercises", "frank", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("list: %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	if resp, _ := env.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: %d", resp.StatusCode)
	}
	env.do(t, http.MethodPost, "/api/execute", "", map[string]string{"code": "print('m')"})
	resp, body := env.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "labrunner_executions_total") {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}

func TestWebSocketGrading(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/exercises/echo/ws"
	header := http.Header{}
	header.Set("X-User-ID", "gina")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsIncoming{Type: "submit", Code: "print(input())"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var caseResults int
	for {
		var msg wsOutgoing
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "case_result" {
			caseResults++
			continue
		}
		if msg.Type != "graded" {
			t.Fatalf("unexpected message %+v", msg)
		}
		if msg.Submission == nil || msg.Submission.UserID != "gina" || !msg.Submission.Grading().AllPassed {
			t.Errorf("graded = %+v", msg.Submission)
		}
		break
	}
	if caseResults != 2 {
		t.Errorf("case results = %d, want 2", caseResults)
	}

	if err := conn.WriteJSON(wsIncoming{Type: "chat"}); err != nil {
		t.Fatal(err)
	}
	var msg wsOutgoing
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Errorf("invalid message reply = %+v, %v", msg, err)
	}
}

func TestWebSocketDisconnectCancelsGrading(t *testing.T) {
	env := newTestEnv(t, config.AuthConfig{}, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/exercises/echo/ws"
	header := http.Header{}
	header.Set("X-User-ID", "hank")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteJSON(wsIncoming{Type: "submit", Code: "# block_forever"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-env.sandbox.started:
	case <-time.After(5 * time.Second):
		t.Fatal("grading never started")
	}

	// One more submit queues behind the running one; the next is refused.
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(wsIncoming{Type: "submit", Code: "print(input())"}); err != nil {
			t.Fatal(err)
		}
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsOutgoing
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Errorf("busy reply = %+v, %v", msg, err)
	}

	conn.Close()
	select {
	case <-env.sandbox.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("closing the connection did not cancel the running program")
	}

	// Give the handler a moment to finish; nothing should be recorded.
	time.Sleep(100 * time.Millisecond)
	subs, err := env.store.ListSubmissions(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("cancelled grading was recorded: %+v", subs)
	}
}

func TestAttemptGate(t *testing.T) {
	g := NewAttemptGate()
	unlock := g.Lock("u", "e")

	acquired := make(chan struct{})
	go func() {
		release := g.Lock("u", "e")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should block")
	case <-time.After(50 * time.Millisecond):
	}

	other := g.Lock("u", "other")
	other()

	unlock()
	<-acquired
	if g.Len() != 0 {
		t.Errorf("gate still tracks %d slots", g.Len())
	}
}
