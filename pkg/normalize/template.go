package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

// DetailResult is the entity-detail shape of a template lookup
type DetailResult struct {
	OK       bool
	Template types.Template
	Message  string
}

var templateNameAliases = []string{"template_name", "templatename", "name"}

// TemplateDetail decodes a template detail body. Only an explicit success: true counts as
// found; the entity is searched under .template, .data.template, .data and the body itself.
func TemplateDetail(body any) DetailResult {
	obj, ok := body.(map[string]any)
	if !ok {
		return DetailResult{Message: "response is not an object"}
	}

	success, msg := Envelope(body)
	if !success {
		if msg == "" {
			msg = "template not found"
		}
		return DetailResult{Message: msg}
	}

	entity := templateEntity(obj)
	if entity == nil {
		return DetailResult{Message: "response carries no template"}
	}
	return DetailResult{OK: true, Template: TemplateRow(entity)}
}

func templateEntity(obj map[string]any) map[string]any {
	if t, ok := obj["template"].(map[string]any); ok {
		return t
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return obj
	}
	if t, ok := data["template"].(map[string]any); ok {
		return t
	}
	if _, ok := data["id"]; ok {
		return data
	}
	// fetch result envelope around the backend payload
	if inner, ok := data["data"].(map[string]any); ok {
		return templateEntity(map[string]any{"data": inner})
	}
	return data
}

// TemplateRow decodes one template object
func TemplateRow(row map[string]any) types.Template {
	return types.Template{
		ID:          ID(first(row, "id", "template_id")),
		Name:        strings.TrimSpace(String(first(row, templateNameAliases...))),
		Description: String(row["description"]),
		Owner:       String(row["username"]),
		Tags:        SplitTags(row["tags"]),
		CreatedAt:   timeOf(first(row, "created_at", "createdat")),
		UpdatedAt:   timeOf(first(row, "updated_at", "updatedat")),
	}
}

// TemplateList decodes a template listing body, newest first as the backend sends it
func TemplateList(body any) []types.TemplateSummary {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := obj["templates"].([]any)
	if !ok {
		if inner, isObj := obj["data"].(map[string]any); isObj {
			rows, _ = inner["templates"].([]any)
		} else {
			rows, _ = obj["data"].([]any)
		}
	}

	out := make([]types.TemplateSummary, 0, len(rows))
	for _, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := TemplateRow(row)
		count := len(t.Tags)
		if n := Float(row["tag_count"]); n != nil {
			count = int(*n)
		}
		out = append(out, types.TemplateSummary{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			TagCount:    count,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	return out
}

// SplitTags accepts a tag array or a comma separated string and returns the trimmed,
// non-empty names in order.
func SplitTags(v any) []string {
	var parts []string
	switch t := v.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, item := range t {
			if row, ok := item.(map[string]any); ok {
				parts = append(parts, String(first(row, nameAliases...)))
				continue
			}
			parts = append(parts, String(item))
		}
	}

	out := []string{}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ID reads an integer id from a number or numeric string; 0 when absent
func ID(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

func timeOf(v any) time.Time {
	ts, _ := Timestamp(v)
	return ts
}
