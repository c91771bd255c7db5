package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quakepush/internal/store"
	logx "quakepush/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	srv := httptest.NewServer(NewRouter(repo, logx.Nop()))
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/subscribe",
		`{"id":"abc123","latitude":35.68,"longitude":139.76,"min_intensity":4}`)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", resp.StatusCode, env)
	}

	sub, err := repo.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.MinIntensity != 4 || sub.Latitude != 35.68 {
		t.Fatalf("stored sub = %+v", sub)
	}
}

func TestSubscribeDefaultsMinIntensity(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/subscribe",
		`{"id":"abc123","latitude":35.68,"longitude":139.76}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	sub, err := repo.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.MinIntensity != 3 {
		t.Fatalf("MinIntensity = %d, want default 3", sub.MinIntensity)
	}
}

func TestSubscribeReplacesExisting(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/subscribe",
		`{"id":"abc123","latitude":35.68,"longitude":139.76,"min_intensity":2}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/subscribe",
		`{"id":"abc123","latitude":31.23,"longitude":121.47,"min_intensity":6}`)

	total, _ := repo.Count(context.Background())
	if total != 1 {
		t.Fatalf("Count = %d, want 1 after re-subscribe", total)
	}
	sub, _ := repo.Get(context.Background(), "abc123")
	if sub.Longitude != 121.47 || sub.MinIntensity != 6 {
		t.Fatalf("sub = %+v, want updated location and threshold", sub)
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty id", `{"id":"","latitude":35,"longitude":139}`},
		{"id too long", `{"id":"` + strings.Repeat("a", 65) + `","latitude":35,"longitude":139}`},
		{"id bad chars", `{"id":"abc/123","latitude":35,"longitude":139}`},
		{"latitude out of range", `{"id":"abc","latitude":91,"longitude":139}`},
		{"longitude out of range", `{"id":"abc","latitude":35,"longitude":181}`},
		{"intensity too high", `{"id":"abc","latitude":35,"longitude":139,"min_intensity":8}`},
		{"intensity negative", `{"id":"abc","latitude":35,"longitude":139,"min_intensity":-1}`},
		{"unknown field", `{"id":"abc","latitude":35,"longitude":139,"radius":50}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/subscribe", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if env.Success {
				t.Fatal("success should be false")
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)
	if err := repo.Upsert(context.Background(), store.NewSubscription("abc123", 35.68, 139.76, 3)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	resp, env := doJSON(t, http.MethodDelete, srv.URL+"/api/unsubscribe/abc123", "")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", resp.StatusCode, env)
	}
	if total, _ := repo.Count(context.Background()); total != 0 {
		t.Fatalf("Count = %d, want 0", total)
	}
}

func TestUnsubscribeUnknownIs404(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodDelete, srv.URL+"/api/unsubscribe/ghost", "")
	if resp.StatusCode != http.StatusNotFound || env.Success {
		t.Fatalf("status=%d env=%+v, want 404", resp.StatusCode, env)
	}
}

func TestUnsubscribeRejectsBadID(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/unsubscribe/"+strings.Repeat("x", 257), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("long id: status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/unsubscribe/bad%20key", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad chars: status = %d, want 400", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)
	for _, id := range []string{"a1", "b2", "c3"} {
		if err := repo.Upsert(context.Background(), store.NewSubscription(id, 35.0, 139.0, 3)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/api/stats", "")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", resp.StatusCode, env)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", env.Data)
	}
	if got := data["total_subscriptions"]; got != float64(3) {
		t.Fatalf("total_subscriptions = %v, want 3", got)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("status=%d env=%+v", resp.StatusCode, env)
	}
}
