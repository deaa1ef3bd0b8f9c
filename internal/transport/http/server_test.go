package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/gate"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/rule"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/store"
)

type downStore struct{}

func (downStore) Eval(context.Context, store.Script, []string, ...int64) ([]int64, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Delete(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Keys(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Ping(context.Context) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}
func (downStore) Close() error { return nil }

func newHandler(t *testing.T, st store.Store, failOpen bool) http.Handler {
	t.Helper()
	kv := store.NewMemory()
	rules, err := rule.NewStore(context.Background(), kv, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := gate.New(st, rules, nil, gate.Options{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(svc, failOpen, zerolog.Nop()).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCheckEndpoint(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)

	body := map[string]any{"key": "user:1", "algorithm": "fixed_window", "limit": 1, "window": 60}
	rec := doJSON(t, h, http.MethodPost, "/check", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	res := decodeInto[checkResponse](t, rec)
	if !res.Allowed || res.Limit != 1 || res.CurrentUsage != 1 {
		t.Errorf("response = %+v", res)
	}
	if _, err := time.Parse(time.RFC3339, res.ResetAt); err != nil {
		t.Errorf("resetAt %q is not RFC3339: %v", res.ResetAt, err)
	}

	// Denials still answer 200.
	rec = doJSON(t, h, http.MethodPost, "/check", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("denied status = %d", rec.Code)
	}
	res = decodeInto[checkResponse](t, rec)
	if res.Allowed || res.RetryAfter < 1 {
		t.Errorf("denied response = %+v", res)
	}
}

func TestCheckValidation(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)

	rec := doJSON(t, h, http.MethodPost, "/check", map[string]any{
		"algorithm": "fixed_window", "limit": 1, "window": 60,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing key: status = %d", rec.Code)
	}
	errRes := decodeInto[errorResponse](t, rec)
	if errRes.Code != string(gate.CodeValidation) {
		t.Errorf("code = %q", errRes.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/check", map[string]any{"key": "k", "bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d", rec.Code)
	}
}

func TestCheckErrorStatuses(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)

	// No rules exist: matcher fallback finds nothing.
	rec := doJSON(t, h, http.MethodPost, "/check", map[string]any{"key": "user:1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("no matching rule: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/check", map[string]any{"key": "user:1", "ruleId": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown rule: status = %d", rec.Code)
	}

	// A disabled rule answers 409.
	created := decodeInto[rule.Rule](t, doJSON(t, h, http.MethodPost, "/rules", map[string]any{
		"name": "off", "algorithm": "token_bucket", "limit": 10, "window": 60,
		"keys": []map[string]string{{"type": "user", "value": "*"}}, "enabled": false,
	}))
	rec = doJSON(t, h, http.MethodPost, "/check", map[string]any{"key": "user:1", "ruleId": created.ID})
	if rec.Code != http.StatusConflict {
		t.Errorf("disabled rule: status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestCheckStoreDown(t *testing.T) {
	inline := map[string]any{"key": "user:1", "algorithm": "fixed_window", "limit": 1, "window": 60}

	h := newHandler(t, downStore{}, false)
	rec := doJSON(t, h, http.MethodPost, "/check", inline)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("fail-closed status = %d", rec.Code)
	}

	h = newHandler(t, downStore{}, true)
	rec = doJSON(t, h, http.MethodPost, "/check", inline)
	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open status = %d", rec.Code)
	}
	res := decodeInto[checkResponse](t, rec)
	if !res.Allowed || !res.FailedOpen {
		t.Errorf("fail-open response = %+v", res)
	}
}

func TestRuleCRUDOverHTTP(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)

	rec := doJSON(t, h, http.MethodPost, "/rules", map[string]any{
		"name": "api", "algorithm": "sliding_window", "limit": 100, "window": 60,
		"keys": []map[string]string{{"type": "user", "value": "*"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body)
	}
	created := decodeInto[rule.Rule](t, rec)
	if created.ID == "" || created.Name != "api" {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if listed := decodeInto[[]rule.Rule](t, rec); len(listed) != 1 {
		t.Errorf("list = %d rules", len(listed))
	}

	rec = doJSON(t, h, http.MethodPut, "/rules/"+created.ID, map[string]any{"limit": 200})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body)
	}
	if updated := decodeInto[rule.Rule](t, rec); updated.Limit != 200 {
		t.Errorf("updated limit = %d", updated.Limit)
	}

	rec = doJSON(t, h, http.MethodDelete, "/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)
	rec := doJSON(t, h, http.MethodPost, "/rules", map[string]any{
		"name": "bad", "algorithm": "token_bucket", "limit": 0, "window": 60,
		"keys": []map[string]string{{"type": "user", "value": "*"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHandler(t, store.NewMemory(), false)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	h = newHandler(t, downStore{}, false)
	rec = doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}
