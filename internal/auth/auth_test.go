package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/pipectl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRequireBearer(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/open", RequireBearer(nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.DELETE("/guarded", RequireBearer(StaticToken{Token: "ok"}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{path: "/open", want: http.StatusNoContent},
		{path: "/guarded", want: http.StatusUnauthorized},
		{path: "/guarded", header: "Bearer bad", want: http.StatusUnauthorized},
		{path: "/guarded", header: "Basic ok", want: http.StatusUnauthorized},
		{path: "/guarded", header: "Bearer ok", want: http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodDelete, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s %q: got %d want %d", tc.path, tc.header, rr.Code, tc.want)
		}
	}
}
