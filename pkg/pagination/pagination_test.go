package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=20&offset=10", 20, 10},
		{"limit capped", "/?limit=5000", MaxLimit, 0},
		{"negative offset", "/?offset=-5", DefaultLimit, 0},
		{"garbage", "/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(tt.target)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   int
	}{
		{"normal", Params{Limit: 10, Offset: 20}, 10},
		{"clamp to zero", Params{Limit: 10, Offset: 5}, 0},
		{"exact", Params{Limit: 10, Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.PreviousOffset(); got != tt.want {
				t.Errorf("PreviousOffset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParams_Links(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	l := p.Links("/api/v1/failed-events", 25)

	if l.Self != "/api/v1/failed-events?limit=10&offset=10" {
		t.Errorf("unexpected self %q", l.Self)
	}
	if l.Next != "/api/v1/failed-events?limit=10&offset=20" {
		t.Errorf("unexpected next %q", l.Next)
	}
	if l.Previous != "/api/v1/failed-events?limit=10&offset=0" {
		t.Errorf("unexpected previous %q", l.Previous)
	}

	last := Params{Limit: 10, Offset: 0}.Links("/x", 5)
	if last.Next != "" || last.Previous != "" {
		t.Errorf("expected single page without navigation, got %+v", last)
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}
	r := NewResponse(data, 10, Params{Limit: 3}, "/x")

	if r.Total != 10 || r.Limit != 3 {
		t.Errorf("unexpected response %+v", r)
	}
	if !r.HasMore {
		t.Error("expected has_more to be true when offset+limit < total")
	}

	r2 := NewResponse(data, 3, Params{Limit: 3}, "/x")
	if r2.HasMore {
		t.Error("expected has_more to be false when offset+limit >= total")
	}
}
