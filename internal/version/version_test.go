package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.4.0", "0.4.0", 0},
		{"0.4.0", "0.5.0", -1},
		{"v1.2.3", "1.2.2", 1},
		{"1.10.0", "1.9.9", 1},
		{"1.0.0-rc1", "1.0.0", 0},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/"+Repo+"/releases/latest" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.test/r","body":"Faster preload\nmore"}`))
	}))
	defer srv.Close()

	rel, err := Latest(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rel.Version != "99.0.0" || !rel.UpdateAvailable || rel.Notes != "Faster preload" {
		t.Fatalf("release = %+v", rel)
	}
}

func TestLatestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := Latest(context.Background(), srv.Client(), srv.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestString(t *testing.T) {
	if !strings.Contains(String(), Version) {
		t.Fatalf("String() = %q", String())
	}
}
