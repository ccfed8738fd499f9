package testutil

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAssertHelpers_Passing(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
	AssertError(t, errors.New("boom"))
}

func TestServe(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"command":"` + r.FormValue("command") + `"}`))
	})

	rec := Serve(h, NewFormRequest(http.MethodPost, "/command", "command=1"))
	AssertStatusCode(t, rec.Code, http.StatusAccepted)
	AssertContentType(t, rec, "application/json")

	var body struct{ Command string }
	DecodeJSON(t, rec, &body)
	if body.Command != "1" {
		t.Errorf("command = %q, want 1", body.Command)
	}
}

func TestNewRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		req    *http.Request
		method string
		ctype  string
	}{
		{"plain", NewTestRequest(http.MethodDelete, "/x"), http.MethodDelete, ""},
		{"form", NewFormRequest(http.MethodPost, "/x", "a=1"), http.MethodPost, "application/x-www-form-urlencoded"},
		{"json", NewJSONRequest(http.MethodPut, "/x", strings.NewReader("{}")), http.MethodPut, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.Method != tt.method || tt.req.URL.Path != "/x" {
				t.Errorf("request = %s %s", tt.req.Method, tt.req.URL.Path)
			}
			if got := tt.req.Header.Get("Content-Type"); got != tt.ctype {
				t.Errorf("Content-Type = %q, want %q", got, tt.ctype)
			}
		})
	}
	if rec := NewTestRecorder(); rec.Code != http.StatusOK {
		t.Errorf("new recorder code = %d", rec.Code)
	}
}
