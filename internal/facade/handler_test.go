package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T) (*echo.Echo, *env) {
	t.Helper()
	e := newTestEnv(t, nil)
	srv := echo.New()
	NewHandler(e.facade).RegisterRoutes(srv.Group("/api/v1"))
	return srv, e
}

func doRequest(srv *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandlerListProviders(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/v1/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "epic") {
		t.Fatalf("expected epic in response: %s", rec.Body)
	}
}

func TestHandlerSyncFlow(t *testing.T) {
	srv, e := newTestServer(t)
	patientID := uuid.New()

	rec := doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections",
		`{"provider":"epic","vendor_patient_id":"ep-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize status %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections/epic/sync?direction=INBOUND", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status %d: %s", rec.Code, rec.Body)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}

	if _, err := e.patients.GetByMRN(context.Background(), "MRN100"); err != nil {
		t.Fatalf("patient not stored: %v", err)
	}
}

func TestHandlerSyncValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	patientID := uuid.New()

	rec := doRequest(srv, http.MethodPost, "/api/v1/patients/not-a-uuid/connections/epic/sync", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad patient id, got %d", rec.Code)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections/notavendor/sync", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown vendor, got %d", rec.Code)
	}

	// Valid vendor with no registered adapter.
	rec = doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections/cerner/sync", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unconfigured vendor, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections/epic/sync?direction=SIDEWAYS", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad direction, got %d", rec.Code)
	}
}

func TestHandlerSyncWithoutConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/v1/patients/"+uuid.NewString()+"/connections/epic/sync", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without connection, got %d: %s", rec.Code, rec.Body)
	}
}

func TestHandlerConflictQueue(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/v1/conflicts?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var envelope struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Total != 0 || envelope.Limit != 10 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/conflicts/"+uuid.NewString()+"/resolve", `{"strategy":"LAST_WRITE_WINS"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conflict, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(srv, http.MethodPost, "/api/v1/conflicts/"+uuid.NewString()+"/resolve", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing strategy, got %d", rec.Code)
	}
}

func TestHandlerRemoteReads(t *testing.T) {
	srv, _ := newTestServer(t)
	patientID := uuid.New()
	rec := doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections",
		`{"provider":"epic","vendor_patient_id":"ep-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize status %d", rec.Code)
	}

	rec = doRequest(srv, http.MethodGet, "/api/v1/patients/"+patientID.String()+"/remote/epic/patient", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "MRN100") {
		t.Fatalf("expected canonical record: %s", rec.Body)
	}

	rec = doRequest(srv, http.MethodGet, "/api/v1/patients/"+patientID.String()+"/remote/epic/observations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
}

func TestHandlerDisconnect(t *testing.T) {
	srv, _ := newTestServer(t)
	patientID := uuid.New()
	doRequest(srv, http.MethodPost, "/api/v1/patients/"+patientID.String()+"/connections",
		`{"provider":"epic","vendor_patient_id":"ep-1"}`)

	rec := doRequest(srv, http.MethodDelete, "/api/v1/patients/"+patientID.String()+"/connections/epic", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect status %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(srv, http.MethodGet, "/api/v1/patients/"+patientID.String()+"/connections/epic", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "DISCONNECTED") {
		t.Fatalf("expected DISCONNECTED record: %s", rec.Body)
	}
}
