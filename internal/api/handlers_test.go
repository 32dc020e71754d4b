package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/procurement-sync/internal/types"
)

type startCall struct {
	id     string
	params any
}

type fakeEngine struct {
	starts   []startCall
	startErr error
	status   map[string]WorkflowStatus
}

func (f *fakeEngine) Start(_ context.Context, id string, _ any, params any) (Started, error) {
	if f.startErr != nil {
		return Started{}, f.startErr
	}
	f.starts = append(f.starts, startCall{id: id, params: params})
	return Started{WorkflowID: id, RunID: "run-1"}, nil
}

func (f *fakeEngine) Status(_ context.Context, id string) (WorkflowStatus, error) {
	st, ok := f.status[id]
	if !ok {
		return WorkflowStatus{}, ErrNotFound
	}
	return st, nil
}

func init() { gin.SetMode(gin.TestMode) }

func newServer(t *testing.T, e *fakeEngine) *gin.Engine {
	t.Helper()
	h := NewHandler(e, zaptest.NewLogger(t))
	h.now = func() time.Time { return time.Date(2024, 5, 3, 1, 0, 0, 0, time.UTC) }
	return Router(h, nil)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// accepted fails the test unless w is a 202.
func accepted(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestSyncContractsStartsWorkflowWithResourceID(t *testing.T) {
	e := &fakeEngine{}
	r := newServer(t, e)

	w := do(r, http.MethodPost, "/api/v1/sync/contracts/153080", `{"with_children": true}`)
	accepted(t, w)
	if len(e.starts) != 1 || e.starts[0].id != "contracts-153080" {
		t.Fatalf("starts: %+v", e.starts)
	}
	want := types.ContractsParams{UASGs: []string{"153080"}, WithChildren: true}
	if !reflect.DeepEqual(e.starts[0].params, want) {
		t.Fatalf("params %+v, want %+v", e.starts[0].params, want)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	var got Started
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WorkflowID != "contracts-153080" {
		t.Fatalf("workflow id %q", got.WorkflowID)
	}
}

func TestSyncContractsRejectsBadUASG(t *testing.T) {
	e := &fakeEngine{}
	w := do(newServer(t, e), http.MethodPost, "/api/v1/sync/contracts/15308A", "")
	if w.Code != http.StatusBadRequest || len(e.starts) != 0 {
		t.Fatalf("status %d, starts %+v", w.Code, e.starts)
	}
}

func TestDryRunGetsUniqueID(t *testing.T) {
	e := &fakeEngine{}
	r := newServer(t, e)
	do(r, http.MethodPost, "/api/v1/sync/contracts/153080", `{"dry_run": true}`)
	do(r, http.MethodPost, "/api/v1/sync/contracts/153080", `{"dry_run": true}`)
	if len(e.starts) != 2 {
		t.Fatalf("starts: %+v", e.starts)
	}
	if !strings.HasPrefix(e.starts[0].id, "contracts-153080-dry-") || e.starts[0].id == e.starts[1].id {
		t.Fatalf("dry run ids %q and %q", e.starts[0].id, e.starts[1].id)
	}
}

func TestSyncChildren(t *testing.T) {
	e := &fakeEngine{}
	r := newServer(t, e)

	w := do(r, http.MethodPost, "/api/v1/sync/contracts/153080/42/children", `{"kinds": ["itens", "empenhos"]}`)
	accepted(t, w)
	if e.starts[0].id != "contract-children-153080-42" {
		t.Fatalf("id %q", e.starts[0].id)
	}
	p := e.starts[0].params.(types.ChildrenParams)
	if !slices.Equal(p.ContractIDs, []int64{42}) || !slices.Equal(p.Kinds, []string{"itens", "empenhos"}) {
		t.Fatalf("params %+v", p)
	}

	for _, tc := range []struct{ path, body string }{
		{"/api/v1/sync/contracts/153080/42/children", `{"kinds": ["faturas"]}`},
		{"/api/v1/sync/contracts/153080/abc/children", ""},
	} {
		if w := do(r, http.MethodPost, tc.path, tc.body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: status %d", tc.path, tc.body, w.Code)
		}
	}
	if len(e.starts) != 1 {
		t.Fatalf("rejected requests started workflows: %+v", e.starts)
	}
}

func TestSyncPNCPDefaultsToYesterdayInBrasilia(t *testing.T) {
	e := &fakeEngine{}
	r := newServer(t, e)

	// 01:00 UTC on May 3 is still May 2 in Brasília.
	accepted(t, do(r, http.MethodPost, "/api/v1/sync/pncp", ""))
	p := e.starts[0].params.(types.PNCPParams)
	if e.starts[0].id != "pncp-2024-05-01" || p.From != "2024-05-01" || p.To != "2024-05-01" {
		t.Fatalf("id %q params %+v", e.starts[0].id, p)
	}

	accepted(t, do(r, http.MethodPost, "/api/v1/sync/pncp", `{"from": "2024-04-01", "to": "2024-04-30", "modalidades": [6, 8]}`))
	p = e.starts[1].params.(types.PNCPParams)
	if e.starts[1].id != "pncp-2024-04-01_2024-04-30" || !slices.Equal(p.Modalidades, []int{6, 8}) {
		t.Fatalf("id %q params %+v", e.starts[1].id, p)
	}

	if w := do(r, http.MethodPost, "/api/v1/sync/pncp", `{"from": "2024-04-30", "to": "2024-04-01"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("backwards window: status %d", w.Code)
	}
}

func TestSyncInlabs(t *testing.T) {
	e := &fakeEngine{}
	r := newServer(t, e)

	accepted(t, do(r, http.MethodPost, "/api/v1/sync/inlabs/2024-05-02", `{"sections": ["do1", " do3 "]}`))
	sections := e.starts[0].params.(types.InlabsParams).Sections
	if e.starts[0].id != "inlabs-2024-05-02" || !slices.Equal(sections, []string{"DO1", "DO3"}) {
		t.Fatalf("id %q sections %v", e.starts[0].id, sections)
	}

	if w := do(r, http.MethodPost, "/api/v1/sync/inlabs/02-05-2024", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: status %d", w.Code)
	}
}

func TestStartFailureIs500(t *testing.T) {
	e := &fakeEngine{startErr: errors.New("temporal down")}
	w := do(newServer(t, e), http.MethodPost, "/api/v1/sync/inlabs/2024-05-02", "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "temporal down") {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkflowStatus(t *testing.T) {
	e := &fakeEngine{status: map[string]WorkflowStatus{
		"inlabs-2024-05-02": {WorkflowID: "inlabs-2024-05-02", RunID: "run-1", Status: "COMPLETED", Result: map[string]any{"created": 3}},
	}}
	r := newServer(t, e)

	w := do(r, http.MethodGet, "/api/v1/workflows/inlabs-2024-05-02/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var st WorkflowStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "COMPLETED" || !reflect.DeepEqual(st.Result, map[string]any{"created": float64(3)}) {
		t.Fatalf("status %+v", st)
	}

	if w := do(r, http.MethodGet, "/api/v1/workflows/unknown/status", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown workflow: status %d", w.Code)
	}
}

func TestStatusName(t *testing.T) {
	cases := map[string]string{
		"Running":                          "RUNNING",
		"WORKFLOW_EXECUTION_STATUS_FAILED": "FAILED",
		"TimedOut":                         "TIMED_OUT",
		"ContinuedAsNew":                   "CONTINUED_AS_NEW",
	}
	for in, want := range cases {
		if got := statusName(in); got != want {
			t.Fatalf("statusName(%q) = %q, want %q", in, got, want)
		}
	}
}
