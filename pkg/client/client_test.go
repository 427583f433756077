package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/cache"
)

func newTestClient(url string, c cache.Cache) *Client {
	return New(Config{BaseURL: url}, c, zerolog.Nop())
}

func TestResolveURL(t *testing.T) {
	c := newTestClient("http://backend/trend/", nil)

	tests := []struct {
		endpoint string
		want     string
	}{
		{"get_tagnames", "http://backend/trend/php/get_tagnames.php"},
		{"get_tagnames.php", "http://backend/trend/php/get_tagnames.php"},
		{"php/get_tagnames.php", "http://backend/trend/php/get_tagnames.php"},
		{"php/custom", "http://backend/trend/php/custom"},
		{"/template_manager", "http://backend/trend/php/template_manager.php"},
		{"https://other/x.php", "https://other/x.php"},
	}

	for _, tt := range tests {
		if got := c.ResolveURL(tt.endpoint); got != tt.want {
			t.Errorf("ResolveURL(%s) = %s, want %s", tt.endpoint, got, tt.want)
		}
	}
}

func TestEncodeQuery(t *testing.T) {
	got := EncodeQuery(map[string]any{
		"tags":  []string{"x", "y"},
		"plant": "Plant A&B",
		"limit": 10,
		"skip":  nil,
	})
	want := "limit=10&plant=Plant%20A%26B&tags[]=x&tags[]=y"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	if got := EncodeQuery(map[string]any{"tags": []any{"a b", 2}}); got != "tags[]=a%20b&tags[]=2" {
		t.Errorf("Unexpected encoding %s", got)
	}
}

func TestRequestGet(t *testing.T) {
	var gotQuery string
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/php/get_plants.php" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header
		w.Write([]byte(`{"success":true,"plants":["P1"]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.Request(context.Background(), "get_plants", map[string]any{"tags": []string{"x", "y"}}, "", nil)
	if !res.Success {
		t.Fatalf("Expected success, got %s", res.Error)
	}
	if !strings.HasPrefix(gotQuery, "tags[]=x&tags[]=y&_cb=") {
		t.Errorf("Expected ordered array params and cache buster, got %s", gotQuery)
	}
	if gotHeader.Get("X-Request-ID") != res.RequestID || res.RequestID == "" {
		t.Errorf("Expected request id header %s, got %s", res.RequestID, gotHeader.Get("X-Request-ID"))
	}
	if gotHeader.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Error("Expected X-Requested-With header")
	}
}

func TestRequestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		if strings.Contains(r.URL.RawQuery, "_cb=") {
			t.Error("Expected no cache buster on POST")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "echo": body["action"]})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.Request(context.Background(), "template_manager", nil, http.MethodPost, map[string]any{"action": "create"})
	if !res.Success {
		t.Fatalf("Expected success, got %s", res.Error)
	}
	if res.Data.(map[string]any)["echo"] != "create" {
		t.Errorf("Expected echoed action, got %v", res.Data)
	}
}

func TestRequestNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.Request(context.Background(), "get_plants", nil, "", nil)
	if res.Success {
		t.Fatal("Expected failure")
	}
	if res.Error != "HTTP 500: Internal Server Error" {
		t.Errorf("Unexpected message %q", res.Error)
	}

	var te *TransportError
	if !errors.As(res.Err(), &te) || te.Status != 500 {
		t.Errorf("Expected transport error with status 500, got %v", res.Err())
	}
}

func TestRequestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>fatal error</html>`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.Request(context.Background(), "get_plants", nil, "", nil)
	if res.Success {
		t.Fatal("Expected failure for malformed JSON")
	}
	var te *TransportError
	if !errors.As(res.Err(), &te) {
		t.Errorf("Expected transport error, got %T", res.Err())
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, zerolog.Nop())
	res := c.Request(context.Background(), "get_plants", nil, "", nil)
	if res.Success {
		t.Fatal("Expected timeout failure")
	}
	if res.Error != "request timed out after 50ms" {
		t.Errorf("Unexpected message %q", res.Error)
	}
	var te *TransportError
	if !errors.As(res.Err(), &te) || !te.Timeout {
		t.Errorf("Expected timeout transport error, got %v", res.Err())
	}
}

func TestRequestCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"success":true,"templates":[]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newTestClient(srv.URL, cache.NewMemory(10, time.Minute))
	params := map[string]any{"action": "list", "username": "alice"}

	first := c.Request(ctx, "template_manager", params, "", nil)
	second := c.Request(ctx, "template_manager", params, "", nil)
	if first.FromCache || !second.FromCache {
		t.Errorf("Expected second request from cache, got %v %v", first.FromCache, second.FromCache)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 network request, got %d", hits.Load())
	}

	if n := c.ClearCache(ctx, "template_manager"); n != 1 {
		t.Errorf("Expected 1 entry cleared, got %d", n)
	}
	c.Request(ctx, "template_manager", params, "", nil)
	if hits.Load() != 2 {
		t.Errorf("Expected a network request after clearing, got %d", hits.Load())
	}
}

func TestRequestNoDeduplication(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			c.Request(context.Background(), "get_plants", nil, "", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 network requests, got %d", hits.Load())
	}
}
