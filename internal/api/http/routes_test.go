package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/water-quality-archive/internal/archive"
	"github.com/i474232898/water-quality-archive/internal/store"
)

// fakeSubmitter records submitted requests and stores a running report for each.
type fakeSubmitter struct {
	store    *store.MemoryStore
	requests []archive.Request
	err      error
}

func (f *fakeSubmitter) Submit(req archive.Request) (archive.RunReport, error) {
	if f.err != nil {
		return archive.RunReport{}, f.err
	}
	f.requests = append(f.requests, req)
	report := archive.RunReport{ID: "run-1", Request: req, Status: archive.RunRunning, StartedAt: time.Now().UTC()}
	f.store.SaveRun(report, archive.JoinedTable{})
	return report, nil
}

func setup() (*fiber.App, *fakeSubmitter, *store.MemoryStore) {
	app := fiber.New()
	memStore := store.NewMemoryStore(10, time.Hour)
	sub := &fakeSubmitter{store: memStore}
	RegisterRoutes(app, sub, memStore)
	return app, sub, memStore
}

func postRun(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestSubmitRun(t *testing.T) {
	app, sub, _ := setup()

	resp := postRun(t, app, `{"area":"anglian","determinands":[{"notation":"0076","label":"Temperature"}],"from":"2024-01-01","to":"2024-03-31T12:00:00Z"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/v1/runs/run-1" {
		t.Errorf("Location = %q", loc)
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "run-1" || out.Status != "running" {
		t.Errorf("unexpected body: %+v", out)
	}

	if len(sub.requests) != 1 {
		t.Fatalf("expected 1 submitted request, got %d", len(sub.requests))
	}
	req := sub.requests[0]
	if req.To.Format(archive.DateLayout) != "2024-03-31" || req.To.Hour() != 0 {
		t.Errorf("to not truncated to a date: %s", req.To)
	}
}

func TestSubmitRunValidation(t *testing.T) {
	app, sub, _ := setup()

	bodies := []string{
		`not json`,
		`{"determinands":[{"notation":"0076","label":"T"}],"from":"2024-01-01","to":"2024-02-01"}`,
		`{"area":"a","determinands":[],"from":"2024-01-01","to":"2024-02-01"}`,
		`{"area":"a","determinands":[{"notation":"0076","label":"T"}],"from":"yesterday","to":"2024-02-01"}`,
	}
	for _, body := range bodies {
		if resp := postRun(t, app, body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", body, http.StatusBadRequest, resp.StatusCode)
		}
	}
	if len(sub.requests) != 0 {
		t.Fatalf("invalid bodies must not be submitted")
	}

	sub.err = errors.New("invalid request: range")
	resp := postRun(t, app, `{"area":"a","determinands":[{"notation":"0076","label":"T"}],"from":"2024-02-01","to":"2024-01-01"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("service rejection: expected %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestGetRun(t *testing.T) {
	app, _, memStore := setup()
	memStore.SaveRun(archive.RunReport{ID: "abc", Status: archive.RunCompleted}, archive.JoinedTable{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list struct {
		Runs []archive.RunReport `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != "abc" {
		t.Fatalf("unexpected list: %+v", list.Runs)
	}
}

func TestDownloadCSV(t *testing.T) {
	app, _, memStore := setup()

	v := archive.ParseValue("4.1")
	table := archive.JoinedTable{
		Columns:      []string{archive.ColumnDate},
		ValueColumns: []string{"Temperature", "pH"},
		Rows: []archive.JoinedRow{{
			Fields: map[string]string{archive.ColumnDate: "2024-01-01"},
			Values: []*archive.Value{&v, nil},
		}},
	}
	memStore.SaveRun(archive.RunReport{ID: "done", Status: archive.RunCompleted}, table)
	memStore.SaveRun(archive.RunReport{ID: "busy", Status: archive.RunRunning}, archive.JoinedTable{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/done/csv", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "date,Temperature,pH\n2024-01-01,4.1,\n" {
		t.Errorf("unexpected csv %q", body)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs/busy/csv", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.StatusCode)
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-01-05", "2024-01-05T10:00:00Z", "1704448800"} {
		ts, err := parseTime(s)
		if err != nil {
			t.Errorf("%s: %v", s, err)
			continue
		}
		if got := ts.Format(archive.DateLayout); got != "2024-01-05" {
			t.Errorf("%s: date = %s", s, got)
		}
	}
	if _, err := parseTime("5 Jan"); err == nil {
		t.Error("expected error")
	}
}
