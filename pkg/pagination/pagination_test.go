package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(ctxWithQuery(""))
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(ctxWithQuery("?limit=50&offset=10"))
	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(ctxWithQuery("?limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(ctxWithQuery("?offset=-5"))
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b"}
	r := NewResponse(data, 42, 20, 0)
	if r.Total != 42 || r.Limit != 20 || r.Offset != 0 {
		t.Fatalf("unexpected response: %+v", r)
	}
	if !r.HasMore {
		t.Error("expected has_more for 42 items at offset 0")
	}

	last := NewResponse(data, 42, 20, 40)
	if last.HasMore {
		t.Error("expected no more items past the last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	p := Params{Limit: 10, Offset: 0}
	if !p.HasNext(25) {
		t.Error("expected next page at offset 0 of 25")
	}
	if p.HasNext(10) {
		t.Error("expected no next page when total fits in one page")
	}
}

func TestParams_HasPrevious(t *testing.T) {
	if (Params{Limit: 10, Offset: 0}).HasPrevious() {
		t.Error("first page has no previous")
	}
	if !(Params{Limit: 10, Offset: 10}).HasPrevious() {
		t.Error("second page has a previous")
	}
}
