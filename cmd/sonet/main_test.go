package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/sonet/internal/testutil"
	"github.com/Sternrassler/sonet/pkg/config"
	"github.com/Sternrassler/sonet/pkg/credentials"
	"github.com/Sternrassler/sonet/pkg/store"
)

// harness runs commands against the mock provider and an in-memory store.
type harness struct {
	t       *testing.T
	mock    *testutil.MockTwitter
	backend *store.MemoryBackend
	config  string
	dir     string
	sleeps  int
}

func newHarness(t *testing.T, total int64, creds int) *harness {
	t.Helper()
	mock := testutil.NewMockTwitter(total)
	t.Cleanup(mock.Close)

	dir := t.TempDir()
	auth := make([]string, creds)
	for i := range auth {
		auth[i] = fmt.Sprintf(`{"consumer_key": "consumer-key-%d", "consumer_secret": "s", "access_token": "t", "access_token_secret": "ts"}`, i)
	}
	content := fmt.Sprintf(`{
  "database": {"address": "localhost", "collection": "posts"},
  "auth": [%s],
  "collector": {"backoff": "1s"},
  "logging": {"level": "error"}
}`, strings.Join(auth, ","))

	h := &harness{
		t:       t,
		mock:    mock,
		backend: store.NewMemoryBackend(),
		dir:     dir,
		config:  writeTestFile(t, dir, "config.json", content),
	}
	return h
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func (h *harness) app(stdout io.Writer) *app {
	a := newApp(stdout)
	a.logOutput = io.Discard
	a.transport = h.mock.Transport()
	a.openBackend = func(ctx context.Context, cfg store.DatabaseConfig) (store.Backend, error) {
		return h.backend, nil
	}
	a.sleeper = func(ctx context.Context, d time.Duration) error {
		h.sleeps++
		return ctx.Err()
	}
	return a
}

func (h *harness) run(args ...string) (int, string) {
	h.t.Helper()
	var out bytes.Buffer
	args = append(args, "--config", h.config)
	code := run(context.Background(), h.app(&out), args)
	return code, out.String()
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, 0},
		{"invalid config", fmt.Errorf("load: %w", config.ErrInvalid), 2},
		{"empty pool", credentials.ErrEmptyPool, 2},
		{"missing secret", &credentials.CredentialError{Index: 1, Field: "access_token"}, 2},
		{"other failure", errors.New("connection refused"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.expected {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	h := newHarness(t, 50, 1)

	code, out := h.run("search", "golang", "-n", "3")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	for _, want := range []string{"ID", "post number 50", "post number 48"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "post number 47") {
		t.Errorf("output has more than 3 posts:\n%s", out)
	}
	if q := h.mock.LastQuery; q.Get("q") != "golang" || q.Get("result_type") != "recent" || q.Get("lang") != "en" {
		t.Errorf("query parameters = %v", q)
	}
}

func TestSearch_DefaultsToOnePost(t *testing.T) {
	h := newHarness(t, 50, 1)

	code, out := h.run("search", "golang")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "post number 50") || strings.Contains(out, "post number 49") {
		t.Errorf("output should hold exactly the newest post:\n%s", out)
	}
}

func TestFSearch_SkipsBlankLines(t *testing.T) {
	h := newHarness(t, 10, 1)
	queries := writeTestFile(t, h.dir, "queries.txt", "golang\n\n   \nrust\n")

	code, out := h.run("fsearch", queries, "-n", "1")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if n := strings.Count(out, "post number 10"); n != 2 {
		t.Errorf("printed %d results, want one per query:\n%s", n, out)
	}
	if got := h.mock.GetRequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestSearch_AcceptsCollectionFlag(t *testing.T) {
	h := newHarness(t, 10, 1)
	queries := writeTestFile(t, h.dir, "queries.txt", "golang\n")

	tests := []struct {
		name string
		args []string
	}{
		{"search short", []string{"search", "golang", "-c", "golang_posts"}},
		{"search long", []string{"search", "golang", "--collection", "golang_posts"}},
		{"fsearch short", []string{"fsearch", queries, "-c", "golang_posts"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := h.run(tt.args...)
			if code != 0 {
				t.Fatalf("exit code = %d, want 0", code)
			}
			if !strings.Contains(out, "post number 10") {
				t.Errorf("output missing the newest post:\n%s", out)
			}
		})
	}

	for _, collection := range []string{"golang_posts", "posts"} {
		if n, _ := h.backend.Count(context.Background(), collection); n != 0 {
			t.Errorf("search stored %d posts in %s", n, collection)
		}
	}
}

func TestInsert(t *testing.T) {
	h := newHarness(t, 250, 1)

	code, out := h.run("insert", "golang")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "golang: 250 inserted, 0 skipped, 0 failed into posts") {
		t.Errorf("output = %q", out)
	}

	n, _ := h.backend.Count(context.Background(), "posts")
	if n != 250 {
		t.Errorf("stored %d posts, want 250", n)
	}

	// A second run stores nothing new and still succeeds.
	code, out = h.run("insert", "golang", "-n", "100", "-c", "posts")
	if code != 0 {
		t.Fatalf("second run exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "0 inserted, 100 skipped") {
		t.Errorf("second run output = %q", out)
	}
}

func TestInsert_Collection(t *testing.T) {
	h := newHarness(t, 30, 1)

	if code, _ := h.run("insert", "golang", "-n", "10", "-c", "golang_posts"); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	n, _ := h.backend.Count(context.Background(), "golang_posts")
	if n != 10 {
		t.Errorf("stored %d posts in golang_posts, want 10", n)
	}
	if n, _ := h.backend.Count(context.Background(), "posts"); n != 0 {
		t.Errorf("default collection should be empty, has %d", n)
	}
}

func TestInsert_RotatesOnRateLimit(t *testing.T) {
	h := newHarness(t, 150, 2)
	h.mock.LimitAfter("consumer-key-0", 0)

	code, out := h.run("insert", "golang")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "150 inserted") {
		t.Errorf("output = %q", out)
	}
	if h.mock.GetLimitedCount() != 1 {
		t.Errorf("limited responses = %d, want 1", h.mock.GetLimitedCount())
	}
	if h.sleeps != 0 {
		t.Errorf("slept %d times, want 0", h.sleeps)
	}
}

func TestFInsert(t *testing.T) {
	h := newHarness(t, 20, 1)
	queries := writeTestFile(t, h.dir, "queries.txt", "golang\n\nrust\n")

	code, out := h.run("finsert", queries)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "golang: 20 inserted") || !strings.HasPrefix(lines[1], "rust: 0 inserted, 20 skipped") {
		t.Errorf("output = %q", out)
	}
}

func TestExport(t *testing.T) {
	h := newHarness(t, 5, 1)
	if code, _ := h.run("insert", "golang"); code != 0 {
		t.Fatalf("insert exit code = %d", code)
	}

	csvPath := filepath.Join(h.dir, "out.csv")
	code, _ := h.run("export", csvPath, "--num", "3")
	if code != 0 {
		t.Fatalf("export exit code = %d, want 0", code)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3:\n%s", len(lines), data)
	}
	if lines[0] != "created_at;text;location" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ";post number 5;Berlin") {
		t.Errorf("first row = %q", lines[1])
	}
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty auth", `{"database": {"address": "localhost"}, "auth": []}`},
		{"incomplete credential", `{"database": {"address": "localhost"}, "auth": [{"consumer_key": "ck"}]}`},
		{"missing database", `{"auth": [{"consumer_key": "a", "consumer_secret": "b", "access_token": "c", "access_token_secret": "d"}]}`},
		{"malformed", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockTwitter(10)
			defer mock.Close()

			path := writeTestFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".json", tt.content)
			a := newApp(io.Discard)
			a.logOutput = io.Discard
			a.transport = mock.Transport()

			code := run(context.Background(), a, []string{"search", "golang", "--config", path})
			if code != 2 {
				t.Errorf("exit code = %d, want 2", code)
			}
			if mock.GetRequestCount() != 0 {
				t.Error("no request may be sent with an invalid configuration")
			}
		})
	}

	a := newApp(io.Discard)
	a.logOutput = io.Discard
	if code := run(context.Background(), a, []string{"search", "golang", "--config", filepath.Join(dir, "absent.json")}); code != 2 {
		t.Errorf("missing config file: exit code = %d, want 2", code)
	}
}

func TestInvalidLogLevelFlag(t *testing.T) {
	h := newHarness(t, 10, 1)
	if code, _ := h.run("search", "golang", "--log-level", "chatty"); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestProviderFailure(t *testing.T) {
	h := newHarness(t, 10, 1)
	h.mock.SetResponse(401, `{"errors":[{"message":"Could not authenticate you.","code":32}]}`)

	if code, _ := h.run("insert", "golang"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestStoreFailure(t *testing.T) {
	h := newHarness(t, 10, 1)
	h.backend.FailWith(errors.New("no reachable servers"))

	if code, _ := h.run("insert", "golang"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestBackoffExhausted(t *testing.T) {
	h := newHarness(t, 10, 1)
	h.mock.LimitAfter("consumer-key-0", 0)

	content := `{
  "database": {"address": "localhost"},
  "auth": [{"consumer_key": "consumer-key-0", "consumer_secret": "s", "access_token": "t", "access_token_secret": "ts"}],
  "collector": {"max_backoffs": 2}
}`
	h.config = writeTestFile(t, h.dir, "bounded.json", content)

	if code, _ := h.run("search", "golang"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if h.sleeps != 2 {
		t.Errorf("slept %d times, want 2", h.sleeps)
	}
}

func TestMissingQueryFile(t *testing.T) {
	h := newHarness(t, 10, 1)
	if code, _ := h.run("finsert", filepath.Join(h.dir, "absent.txt")); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t, 10, 1)
	if code, _ := h.run("search"); code == 0 {
		t.Error("search without a query should fail")
	}
	if h.mock.GetRequestCount() != 0 {
		t.Error("usage errors must not reach the provider")
	}
}
