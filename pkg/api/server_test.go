package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/storage"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *storage.Badger) {
	t.Helper()
	store, err := storage.NewBadger(&storage.Config{Path: t.TempDir(), CompressionLevel: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := NewServer(DefaultConfig(), store, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local) }
	return s, store
}

func seed(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	err := store.PutTags(ctx, []types.Tag{
		{Name: "PH-01", Plant: "Plant A", Description: "pH", Limits: types.Limits{LSL: types.Float(6.5), USL: types.Float(7.5)}},
		{Name: "PH-02", Plant: "Plant A"},
		{Name: "VISC", Plant: "Plant B"},
		{Name: "LOOSE", Plant: "null"},
	})
	if err != nil {
		t.Fatal(err)
	}

	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.Local)
	err = store.Write(ctx, []types.Series{
		{Tag: "PH-01", Samples: []types.Sample{
			{Timestamp: day.Add(8 * time.Hour), Value: types.Float(7.0)},
			{Timestamp: day.Add(23*time.Hour + 59*time.Minute), Value: types.Float(7.2)},
			{Timestamp: day.AddDate(0, 0, -30), Value: types.Float(6.0)},
		}},
		{Tag: "VISC", Samples: []types.Sample{{Timestamp: day.Add(time.Hour)}}},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, s *Server, method, target string, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("Invalid JSON from %s: %v (%s)", target, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("Unexpected health response %d %v", code, body)
	}
}

func TestCORSAndRequestID(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/php/template_manager.php", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected preflight 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Errorf("Unexpected allowed methods %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated request id")
	}
}

func TestUnknownEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/php/nope.php", "", nil)
	if code != http.StatusNotFound || body["success"] != false {
		t.Errorf("Expected 404 envelope, got %d %v", code, body)
	}
}

func TestTagnames(t *testing.T) {
	s, store := newTestServer(t)

	_, body := do(t, s, http.MethodGet, "/php/get_tagnames.php", "", nil)
	if body["success"] != false {
		t.Errorf("Expected success false on an empty catalog, got %v", body)
	}

	seed(t, store)
	_, body = do(t, s, http.MethodGet, "/php/get_tagnames.php", "", nil)
	data, _ := body["data"].([]any)
	if body["success"] != true || len(data) != 4 || body["count"] != float64(4) {
		t.Fatalf("Unexpected catalog %v", body)
	}
	first := data[0].(map[string]any)
	if first["tagname"] != "PH-01" || first["lsl"] != 6.5 || first["lgl"] != nil {
		t.Errorf("Unexpected row %v", first)
	}
}

func TestPlants(t *testing.T) {
	s, store := newTestServer(t)
	seed(t, store)

	_, body := do(t, s, http.MethodGet, "/php/get_plants.php", "", nil)
	plants, _ := body["plants"].([]any)
	if body["success"] != true || len(plants) != 2 || plants[0] != "Plant A" || plants[1] != "Plant B" {
		t.Errorf("Unexpected plants %v", body)
	}
}

func TestTagValues(t *testing.T) {
	s, store := newTestServer(t)
	seed(t, store)

	_, body := do(t, s, http.MethodGet, "/php/get_tag_values.php", "", nil)
	if body["success"] != false || body["message"] != "parameter tagname required" {
		t.Errorf("Expected missing tagname failure, got %v", body)
	}

	_, body = do(t, s, http.MethodGet, "/php/get_tag_values.php?tagname=PH-01&start_date=2024-03-14&end_date=2024-03-14", "", nil)
	data, _ := body["data"].([]any)
	if body["success"] != true || len(data) != 2 {
		t.Fatalf("Expected 2 rows on an inclusive single day, got %v", body)
	}
	row := data[1].(map[string]any)
	if row["datetime"] != "2024-03-14 23:59:00" || row["tagname"] != "PH-01" {
		t.Errorf("Unexpected row %v", row)
	}

	// Without dates every sample is returned
	_, body = do(t, s, http.MethodGet, "/php/get_tag_values.php?tagname=PH-01", "", nil)
	if body["count"] != float64(3) {
		t.Errorf("Expected 3 rows without a range, got %v", body["count"])
	}

	_, body = do(t, s, http.MethodGet, "/php/get_tag_values.php?tagname=NOPE", "", nil)
	if body["success"] != false {
		t.Errorf("Expected no data failure, got %v", body)
	}
}

func TestMultipleTagValues(t *testing.T) {
	s, store := newTestServer(t)
	seed(t, store)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"get", http.MethodGet, "/php/get_multiple_tag_values.php?tagnames=PH-01,%20VISC,GHOST", ""},
		{"post json", http.MethodPost, "/php/get_multiple_tag_values.php", `{"tagnames":"PH-01,VISC,GHOST"}`},
		{"post json array", http.MethodPost, "/php/get_multiple_tag_values.php", `{"tagnames":["PH-01","VISC","GHOST"]}`},
		{"post form", http.MethodPost, "/php/get_multiple_tag_values.php", url.Values{"tagnames": {"PH-01,VISC,GHOST"}}.Encode()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body := do(t, s, tt.method, tt.target, tt.body, nil)
			if body["success"] != true {
				t.Fatalf("Expected success, got %v", body)
			}
			data := body["data"].(map[string]any)
			if len(data) != 3 {
				t.Fatalf("Expected every requested tag, got %v", data)
			}
			// default window is the last 7 days, which excludes the 30 day old sample
			if ph := data["PH-01"].([]any); len(ph) != 2 {
				t.Errorf("Expected 2 PH-01 rows, got %d", len(ph))
			}
			if visc := data["VISC"].([]any); len(visc) != 1 || visc[0].(map[string]any)["value"] != nil {
				t.Errorf("Expected one VISC gap row, got %v", visc)
			}
			if ghost := data["GHOST"].([]any); len(ghost) != 0 {
				t.Errorf("Expected empty GHOST rows, got %v", ghost)
			}
		})
	}
}

func TestMultipleTagValuesNoData(t *testing.T) {
	s, store := newTestServer(t)
	seed(t, store)

	_, body := do(t, s, http.MethodGet, "/php/get_multiple_tag_values.php?tagnames=GHOST,PH-02&start_date=2024-01-01&end_date=2024-01-02", "", nil)
	if body["success"] != false {
		t.Fatalf("Expected success false, got %v", body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok || len(data) != 2 {
		t.Errorf("Expected requested tags with empty arrays, got %v", body["data"])
	}

	_, body = do(t, s, http.MethodGet, "/php/get_multiple_tag_values.php", "", nil)
	if body["message"] != "parameter tagnames required" {
		t.Errorf("Unexpected message %v", body["message"])
	}
	_, body = do(t, s, http.MethodGet, "/php/get_multiple_tag_values.php?tagnames=%20,%20", "", nil)
	if body["message"] != "no valid tags" {
		t.Errorf("Unexpected message %v", body["message"])
	}
}

func TestPanelData(t *testing.T) {
	s, store := newTestServer(t)
	seed(t, store)

	_, body := do(t, s, http.MethodGet, "/php/get_panel_data.php?plant=Plant%20A&start_date=2024-03-14&end_date=2024-03-14", "", nil)
	if body["success"] != true || body["tag_count"] != float64(2) {
		t.Fatalf("Unexpected panel %v", body)
	}
	tags := body["tags"].([]any)
	ph := tags[0].(map[string]any)
	if ph["tagname"] != "PH-01" || ph["usl"] != 7.5 || len(ph["data"].([]any)) != 2 {
		t.Errorf("Unexpected panel tag %v", ph)
	}

	// Plant names match regardless of case
	_, body = do(t, s, http.MethodGet, "/php/get_panel_data.php?plant=plant%20b", "", nil)
	if body["success"] != true || body["tag_count"] != float64(1) {
		t.Errorf("Expected Plant B panel for lower case plant, got %v", body)
	}

	_, body = do(t, s, http.MethodGet, "/php/get_panel_data.php?plant=Nowhere", "", nil)
	if body["success"] != false {
		t.Errorf("Expected failure for unknown plant, got %v", body)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := do(t, s, http.MethodGet, "/php/auth-for-trend.php?action=check_session", "", nil)
	if body["success"] != false || body["message"] != "not logged in" {
		t.Errorf("Expected not logged in, got %v", body)
	}

	header := http.Header{"X-Remote-User": {"ana"}, "X-Remote-Name": {"Ana P."}}
	_, body = do(t, s, http.MethodGet, "/php/auth-for-trend.php?action=check_session", "", header)
	user, _ := body["user"].(map[string]any)
	if body["success"] != true || user["username"] != "ana" || user["name"] != "Ana P." {
		t.Errorf("Unexpected session %v", body)
	}

	_, body = do(t, s, http.MethodGet, "/php/auth-for-trend.php?action=logout", "", header)
	if body["success"] != false {
		t.Errorf("Expected invalid action, got %v", body)
	}
}

func TestTestConnection(t *testing.T) {
	s, _ := newTestServer(t)
	_, body := do(t, s, http.MethodGet, "/php/test_connection.php", "", nil)
	if body["success"] != true || body["postgres_version"] == "" {
		t.Errorf("Unexpected response %v", body)
	}
}

func TestTemplateManager(t *testing.T) {
	s, _ := newTestServer(t)
	const target = "/php/template_manager.php"

	_, body := do(t, s, http.MethodPost, target, `{"action":"create","template_name":"x","tags":["A"]}`, nil)
	if body["message"] != "username required" {
		t.Errorf("Expected username required, got %v", body)
	}
	_, body = do(t, s, http.MethodPost, target, `{"action":"create","username":"ana","tags":["A"]}`, nil)
	if body["message"] != "template name required" {
		t.Errorf("Expected name required, got %v", body)
	}

	_, body = do(t, s, http.MethodPost, target,
		`{"action":"create","username":"ana","template_name":"Line 1","description":"d","tags":["A","B","C"]}`, nil)
	if body["success"] != true || body["saved_tags"] != float64(3) {
		t.Fatalf("Unexpected create response %v", body)
	}
	id := body["template_id"].(float64)

	_, body = do(t, s, http.MethodGet, target+"?action=list&username=ana", "", nil)
	list := body["templates"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["tag_count"] != float64(3) {
		t.Errorf("Unexpected list %v", body)
	}

	// form encoded mutation with the id under "id"
	form := url.Values{"action": {"update"}, "username": {"ana"}, "id": {"1"}, "template_name": {"Line 1"}, "tags": {"B, D"}}
	_, body = do(t, s, http.MethodPost, target, form.Encode(), nil)
	if body["success"] != true || body["updated_tags"] != float64(2) {
		t.Fatalf("Unexpected update response %v", body)
	}

	_, body = do(t, s, http.MethodGet, target+"?action=detail&template_id=1", "", nil)
	tpl := body["template"].(map[string]any)
	tags := tpl["tags"].([]any)
	if tpl["id"] != id || tpl["username"] != "ana" || len(tags) != 2 || tags[0] != "B" || tags[1] != "D" {
		t.Errorf("Unexpected detail %v", tpl)
	}

	_, body = do(t, s, http.MethodPost, target, `{"action":"delete","username":"ben","template_id":1}`, nil)
	if body["success"] != false || body["message"] != msgNoAccess {
		t.Errorf("Expected refusal for another user, got %v", body)
	}
	_, body = do(t, s, http.MethodPost, target, `{"action":"delete","username":"ana","template_id":"1"}`, nil)
	if body["success"] != true {
		t.Errorf("Expected delete to succeed, got %v", body)
	}
	_, body = do(t, s, http.MethodGet, target+"?action=detail&template_id=1", "", nil)
	if body["success"] != false {
		t.Errorf("Expected deleted template to be gone, got %v", body)
	}

	_, body = do(t, s, http.MethodGet, target+"?action=rename&username=ana", "", nil)
	if body["message"] != "invalid action: rename" {
		t.Errorf("Unexpected message %v", body["message"])
	}
}
