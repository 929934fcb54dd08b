package timerapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/httpx"
	"tracker/cmd/internal/timer"
)

const t0 = 1_700_000_000

// tokenAuth maps bearer tokens to user ids.
type tokenAuth map[string]int64

func (a tokenAuth) Authenticate(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	uid, ok := a[httpx.BearerToken(r)]
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired session")
		return session.Session{}, false
	}
	return session.Session{ID: "s", UserID: uid}, true
}

type testEnv struct {
	mux   *http.ServeMux
	store *timer.MemoryStore
	clk   *clock.Manual
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := timer.NewMemoryStore()
	store.RegisterIssue(7, timer.IssueInfo{Title: "Login page", ProjectID: 1, ProjectName: "Web"})
	store.RegisterIssue(9, timer.IssueInfo{Title: "Crash on boot", ProjectID: 2, ProjectName: "Mobile"})

	clk := clock.NewManualUnix(t0)
	engine := timer.NewEngine(store, timer.WithClock(clk), timer.WithLogger(log))

	h, err := NewHandler(log, engine, tokenAuth{"tok-a": 1, "tok-b": 2})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{mux: mux, store: store, clk: clk}
}

func (e *testEnv) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func mustDecode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body=%s)", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	body := mustDecode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rr)
	return body.Error.Code
}

func TestRoutes_RequireSession(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/timer/start"},
		{http.MethodPost, "/timer/stop"},
		{http.MethodPost, "/timer/stop-manual"},
		{http.MethodPost, "/timer/abort"},
		{http.MethodGet, "/timer/active"},
		{http.MethodGet, "/timer/stats"},
		{http.MethodGet, "/timer/stats.xlsx"},
		{http.MethodGet, "/timer/entries?issue_id=7"},
		{http.MethodPost, "/timer/entries"},
		{http.MethodPut, "/timer/entries/1"},
		{http.MethodDelete, "/timer/entries/1"},
	}
	for _, rt := range routes {
		rr := e.do(t, rt.method, rt.path, "bogus", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: status=%d", rt.method, rt.path, rr.Code)
		}
	}
	if n := len(e.store.Rows()); n != 0 {
		t.Fatalf("unauthenticated calls touched storage: %d rows", n)
	}
}

func TestStartStopFlow(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/timer/start", "tok-a", `{"issue_id":7}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", rr.Code, rr.Body.String())
	}
	start := mustDecode[timer.StartResult](t, rr)
	if start.IssueID != 7 || start.StartTime != t0 || start.ClosedIntervalID != nil {
		t.Fatalf("unexpected start: %+v", start)
	}

	e.clk.Advance(90 * time.Second)
	rr = e.do(t, http.MethodGet, "/timer/active", "tok-a", "")
	active := mustDecode[activeResponse](t, rr)
	if active.Active == nil || active.Active.ElapsedSeconds != 90 || active.Active.IssueTitle != "Login page" {
		t.Fatalf("unexpected active: %+v", active.Active)
	}

	rr = e.do(t, http.MethodPost, "/timer/stop", "tok-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stop status=%d", rr.Code)
	}
	stop := mustDecode[timer.StopResult](t, rr)
	if stop.DurationSeconds != 90 || stop.IntervalID != start.IntervalID {
		t.Fatalf("unexpected stop: %+v", stop)
	}

	rr = e.do(t, http.MethodGet, "/timer/active", "tok-a", "")
	if got := mustDecode[activeResponse](t, rr); got.Active != nil {
		t.Fatalf("expected idle, got %+v", got.Active)
	}

	rr = e.do(t, http.MethodPost, "/timer/stop", "tok-a", "")
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "no_active_timer" {
		t.Fatalf("stop on idle: status=%d", rr.Code)
	}
}

func TestStopManual(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/timer/start", "tok-a", `{"issue_id":7}`)

	cases := []struct {
		body string
		code int
	}{
		{`{"hours":2}`, http.StatusBadRequest},
		{`{"hours":25,"minutes":0}`, http.StatusBadRequest},
		{`{"hours":1,"minutes":60}`, http.StatusBadRequest},
		{`{"hours":2,"minutes":30}`, http.StatusOK},
		{`{"hours":0,"minutes":5}`, http.StatusConflict},
	}
	for _, tc := range cases {
		rr := e.do(t, http.MethodPost, "/timer/stop-manual", "tok-a", tc.body)
		if rr.Code != tc.code {
			t.Fatalf("%s: status=%d want=%d", tc.body, rr.Code, tc.code)
		}
		if rr.Code == http.StatusOK {
			res := mustDecode[timer.StopResult](t, rr)
			if res.StopTime != t0+9000 {
				t.Fatalf("stop_time=%d want=%d", res.StopTime, t0+9000)
			}
		}
	}
}

func TestAbort(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/timer/start", "tok-a", `{"issue_id":7}`)

	if rr := e.do(t, http.MethodPost, "/timer/abort", "tok-a", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("abort status=%d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/timer/abort", "tok-a", ""); rr.Code != http.StatusConflict {
		t.Fatalf("second abort status=%d", rr.Code)
	}
	if n := len(e.store.Rows()); n != 0 {
		t.Fatalf("abort left %d rows", n)
	}
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	cases := []struct {
		body string
		code string
	}{
		{`{"issue_id":0}`, "invalid_request"},
		{`{"issue_id":"7"}`, "invalid_json"},
		{`{"issue":7}`, "invalid_json"},
	}
	for _, tc := range cases {
		rr := e.do(t, http.MethodPost, "/timer/start", "tok-a", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", tc.body, rr.Code)
		}
		if got := errorCode(t, rr); got != tc.code {
			t.Fatalf("%s: code=%q want=%q", tc.body, got, tc.code)
		}
	}
}

func TestEntriesCRUD(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/timer/entries", "tok-a", `{"issue_id":9,"start_time":1000,"stop_time":4600}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := mustDecode[timer.Entry](t, rr)
	if created.UserID != 1 || created.DurationSeconds != 3600 {
		t.Fatalf("unexpected entry: %+v", created)
	}

	rr = e.do(t, http.MethodPost, "/timer/entries", "tok-a", `{"issue_id":9,"start_time":5000,"stop_time":4000}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted range status=%d", rr.Code)
	}

	path := "/timer/entries/" + strconv.FormatInt(created.ID, 10)
	rr = e.do(t, http.MethodPut, path, "tok-a", `{"start_time":1000,"stop_time":2000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d", rr.Code)
	}
	if got := mustDecode[timer.Entry](t, rr); got.DurationSeconds != 1000 {
		t.Fatalf("updated duration=%d", got.DurationSeconds)
	}

	rr = e.do(t, http.MethodGet, "/timer/entries?issue_id=9", "tok-a", "")
	list := mustDecode[entriesResponse](t, rr)
	if len(list.Entries) != 1 || list.Entries[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", list.Entries)
	}

	if rr := e.do(t, http.MethodDelete, path, "tok-a", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = e.do(t, http.MethodDelete, path, "tok-a", "")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if rr := e.do(t, http.MethodPut, "/timer/entries/abc", "tok-a", `{"start_time":1,"stop_time":2}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/timer/entries", "tok-a", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing issue_id status=%d", rr.Code)
	}
}

func TestStats_FiltersAndXLSX(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/timer/entries", "tok-a", `{"issue_id":7,"start_time":0,"stop_time":3600}`)
	e.do(t, http.MethodPost, "/timer/entries", "tok-b", `{"issue_id":9,"start_time":0,"stop_time":1800}`)

	rr := e.do(t, http.MethodGet, "/timer/stats", "tok-a", "")
	all := mustDecode[timer.Stats](t, rr)
	if all.TotalSeconds != 5400 || len(all.Issues) != 2 || all.Issues[0].IssueID != 7 {
		t.Fatalf("unexpected stats: %+v", all)
	}

	rr = e.do(t, http.MethodGet, "/timer/stats?user_id=2", "tok-a", "")
	mine := mustDecode[timer.Stats](t, rr)
	if mine.TotalSeconds != 1800 || len(mine.Projects) != 1 || mine.Projects[0].ProjectName != "Mobile" {
		t.Fatalf("unexpected filtered stats: %+v", mine)
	}

	if rr := e.do(t, http.MethodGet, "/timer/stats?project_id=x", "tok-a", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status=%d", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/timer/stats.xlsx", "tok-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("xlsx status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("content-type=%q", ct)
	}
	body := rr.Body.Bytes()
	if _, err := zip.NewReader(bytes.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("xlsx is not a zip archive: %v", err)
	}
}
