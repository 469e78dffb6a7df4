package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		err    error
	}{
		{"Bearer abc.def", "abc.def", nil},
		{"bearer   abc.def  ", "abc.def", nil},
		{"", "", errMissingToken},
		{"Bearer ", "", errMissingToken},
		{"Bearer", "", errMissingToken},
		{"  BEARER    ", "", errMissingToken},
		{"Basic dXNlcjpwdw==", "", errInvalidScheme},
		{"Bear", "", errInvalidScheme},
		{"Bearerabc.def", "", errInvalidScheme},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if err != tc.err || got != tc.token {
			t.Fatalf("extractBearerToken(%q) = %q, %v; want %q, %v", tc.header, got, err, tc.token, tc.err)
		}
	}
}

func TestWithAuthRequiresAuthService(t *testing.T) {
	a := &API{}
	rr := httptest.NewRecorder()
	a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an auth service, got %d", rr.Code)
	}
}
