package normalize

import (
	"sort"
	"strings"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

var (
	nameAliases = []string{"tagname", "name", "tag_name"}
	lslAliases  = []string{"lsl", "lower_limit", "minLimit", "min_limit"}
	uslAliases  = []string{"usl", "upper_limit", "maxLimit", "max_limit"}
	lglAliases  = []string{"lgl", "lower_guarantee_limit", "minGuaranteeLimit", "min_guarantee_limit"}
	uglAliases  = []string{"ugl", "upper_guarantee_limit", "maxGuaranteeLimit", "max_guarantee_limit"}
)

// plantPlaceholders are plant values that mean "no plant"
var plantPlaceholders = map[string]bool{
	"":     true,
	"null": true,
	"none": true,
	"na":   true,
	"n/a":  true,
}

// Tags decodes a tag catalog body. Rows without a name are skipped; a bare string row is a
// tag without plant or limits. In a plain object keyed by tag name the key names a row that
// carries no name of its own.
func Tags(body any) []types.Tag {
	list := List(body)
	out := make([]types.Tag, 0, len(list.Items))
	for i, item := range list.Items {
		switch row := item.(type) {
		case string:
			if name := strings.TrimSpace(row); name != "" {
				out = append(out, types.Tag{Name: name})
			}
		case map[string]any:
			tag, ok := TagRow(row)
			if !ok && i < len(list.Keys) {
				tag, ok = TagRow(withName(row, list.Keys[i]))
			}
			if ok {
				out = append(out, tag)
			}
		}
	}
	return out
}

func withName(row map[string]any, name string) map[string]any {
	named := make(map[string]any, len(row)+1)
	for k, v := range row {
		named[k] = v
	}
	named["tagname"] = name
	return named
}

// TagRow decodes one catalog row
func TagRow(row map[string]any) (types.Tag, bool) {
	name := strings.TrimSpace(String(first(row, nameAliases...)))
	if name == "" {
		return types.Tag{}, false
	}
	return types.Tag{
		Name:        name,
		Description: String(row["description"]),
		Plant:       strings.TrimSpace(String(row["plant"])),
		Format:      String(row["format"]),
		Limits:      RowLimits(row),
	}, true
}

// RowLimits reads the four limits of a row under any of their aliases
func RowLimits(row map[string]any) types.Limits {
	return types.Limits{
		LSL: Float(first(row, lslAliases...)),
		USL: Float(first(row, uslAliases...)),
		LGL: Float(first(row, lglAliases...)),
		UGL: Float(first(row, uglAliases...)),
	}
}

// Plants decodes a plant list body into sorted, unique plant names
func Plants(body any) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, item := range List(body).Items {
		var name string
		switch row := item.(type) {
		case string:
			name = row
		case map[string]any:
			name = String(row["plant"])
		default:
			continue
		}
		name = strings.TrimSpace(name)
		if IsPlaceholder(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsPlaceholder reports whether a plant value means "no plant"
func IsPlaceholder(plant string) bool {
	return plantPlaceholders[strings.ToLower(strings.TrimSpace(plant))]
}

// Panel decodes a plant panel body: every tag row carries its limits and its samples
func Panel(body any) []types.PanelTag {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	// fetch result envelope
	if inner, isObj := obj["data"].(map[string]any); isObj {
		if _, hasTags := inner["tags"]; hasTags {
			obj = inner
		}
	}

	rows, _ := obj["tags"].([]any)
	plant := String(obj["plant"])
	out := make([]types.PanelTag, 0, len(rows))
	for _, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tag, ok := TagRow(row)
		if !ok {
			continue
		}
		if tag.Plant == "" {
			tag.Plant = plant
		}
		series := Series(row["data"])
		series.Tag = tag.Name
		out = append(out, types.PanelTag{Tag: tag, Series: series})
	}
	return out
}
