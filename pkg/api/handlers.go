package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/storage"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// defaultRangeDays is the window used by the multi-tag endpoint when no dates are given
const defaultRangeDays = 7

const maxBodyBytes = 1 << 20

var (
	epochStart = time.Unix(0, 0)
	endOfTime  = time.Date(9999, 12, 31, 23, 59, 59, 0, time.Local)
)

// sampleRow is a stored sample in the backend's row format
type sampleRow struct {
	Datetime  string   `json:"datetime"`
	Tagname   string   `json:"tagname,omitempty"`
	Value     *float64 `json:"value"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

func rows(s types.Series, withTag, withEpoch bool) []sampleRow {
	out := make([]sampleRow, 0, s.Len())
	for _, sample := range s.Samples {
		row := sampleRow{
			Datetime: normalize.FormatTimestamp(sample.Timestamp),
			Value:    sample.Value,
		}
		if withTag {
			row.Tagname = s.Tag
		}
		if withEpoch {
			row.Timestamp = sample.Timestamp.Unix()
		}
		out = append(out, row)
	}
	return out
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.Tags(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if len(tags) == 0 {
		writeJSON(w, http.StatusOK, failure("tag data not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    tags,
		"count":   len(tags),
	})
}

func (s *Server) handleTagValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tag := strings.TrimSpace(q.Get("tagname"))
	if tag == "" {
		writeJSON(w, http.StatusOK, failure("parameter tagname required"))
		return
	}

	from, to, err := optionalRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeJSON(w, http.StatusOK, failure(err.Error()))
		return
	}

	series, err := s.store.Values(r.Context(), tag, from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if series.Len() == 0 {
		writeJSON(w, http.StatusOK, failure("no data found for tagname: "+tag))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    rows(series, true, false),
		"count":   series.Len(),
	})
}

func (s *Server) handleMultiTagValues(w http.ResponseWriter, r *http.Request) {
	in, err := input(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}

	raw := in["tagnames"]
	if str, isStr := raw.(string); raw == nil || isStr && strings.TrimSpace(str) == "" {
		writeJSON(w, http.StatusOK, failure("parameter tagnames required"))
		return
	}
	tags := normalize.SplitTags(raw)
	if len(tags) == 0 {
		writeJSON(w, http.StatusOK, failure("no valid tags"))
		return
	}

	startDate := normalize.String(in["start_date"])
	endDate := normalize.String(in["end_date"])
	if startDate == "" || endDate == "" {
		today := s.now()
		endDate = today.Format("2006-01-02")
		startDate = today.AddDate(0, 0, -defaultRangeDays).Format("2006-01-02")
	}
	from, to, err := dateRange(startDate, endDate)
	if err != nil {
		writeJSON(w, http.StatusOK, failure(err.Error()))
		return
	}

	series, err := s.store.MultiValues(r.Context(), tags, from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	grouped := make(map[string][]sampleRow, len(tags))
	count := 0
	for _, tag := range tags {
		grouped[tag] = rows(series[tag], false, true)
		count += len(grouped[tag])
	}

	dates := map[string]string{"start": startDate, "end": endDate}
	if count == 0 {
		// Every requested tag stays present so clients can still render empty panels
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"message":    "no data found for requested tags",
			"data":       grouped,
			"date_range": dates,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "data retrieved",
		"data":       grouped,
		"count":      count,
		"date_range": dates,
	})
}

// panelTag is one tag of a plant panel with its limits and samples
type panelTag struct {
	Tagname     string      `json:"tagname"`
	Description string      `json:"description"`
	LSL         *float64    `json:"lsl"`
	USL         *float64    `json:"usl"`
	LGL         *float64    `json:"lgl,omitempty"`
	UGL         *float64    `json:"ugl,omitempty"`
	Data        []sampleRow `json:"data"`
}

func (s *Server) handlePanelData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	plant := strings.TrimSpace(q.Get("plant"))
	if plant == "" {
		writeJSON(w, http.StatusOK, failure("parameter plant required"))
		return
	}

	from, to, err := optionalRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeJSON(w, http.StatusOK, failure(err.Error()))
		return
	}

	tags, err := s.store.PlantTags(r.Context(), plant)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if len(tags) == 0 {
		writeJSON(w, http.StatusOK, failure("no tags found for plant: "+plant))
		return
	}

	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	series, err := s.store.MultiValues(r.Context(), names, from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	out := make([]panelTag, 0, len(tags))
	for _, t := range tags {
		out = append(out, panelTag{
			Tagname:     t.Name,
			Description: t.Description,
			LSL:         t.LSL,
			USL:         t.USL,
			LGL:         t.LGL,
			UGL:         t.UGL,
			Data:        rows(series[t.Name], false, false),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"plant":     plant,
		"tags":      out,
		"tag_count": len(out),
	})
}

func (s *Server) handlePlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.store.Plants(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if len(plants) == 0 {
		writeJSON(w, http.StatusOK, failure("no plants found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"plants":  plants,
		"count":   len(plants),
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.Ping(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, failure("database connection failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "database connection ok",
		"postgres_version": version,
	})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, failure("server error: "+err.Error()))
}

// input merges the query string, a form body and a JSON object body, later sources winning
func input(r *http.Request) (map[string]any, error) {
	out := make(map[string]any)
	for k, v := range r.URL.Query() {
		out[k] = v[0]
	}
	if r.Body == nil {
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return out, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		for k, v := range obj {
			out[k] = v
		}
		return out, nil
	}

	form, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, fmt.Errorf("body is neither JSON nor form data")
	}
	for k, v := range form {
		out[k] = v[0]
	}
	return out, nil
}

// dateRange parses two YYYY-MM-DD dates into an inclusive day range
func dateRange(start, end string) (time.Time, time.Time, error) {
	from, err := normalize.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := normalize.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date %s is before start_date %s", end, start)
	}
	from, to = storage.DayRange(from, to)
	return from, to, nil
}

// optionalRange filters by date only when both dates are given
func optionalRange(start, end string) (time.Time, time.Time, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return epochStart, endOfTime, nil
	}
	return dateRange(start, end)
}
