package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/storage"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

const msgNoAccess = "template not found or no access"

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	in, err := input(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err.Error()))
		return
	}

	action := strings.TrimSpace(normalize.String(in["action"]))
	username := strings.TrimSpace(normalize.String(in["username"]))
	id := normalize.ID(in["template_id"])
	if id == 0 {
		id = normalize.ID(in["id"])
	}

	// detail is readable by id alone; everything else acts on behalf of a user
	if username == "" && action != "detail" {
		writeJSON(w, http.StatusOK, failure("username required"))
		return
	}

	log := hlog.FromRequest(r)
	switch action {
	case "create":
		t, ok := templateInput(w, in)
		if !ok {
			return
		}
		t.Owner = username
		newID, err := s.store.CreateTemplate(r.Context(), t)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		log.Info().Int64("template_id", newID).Str("username", username).Msg("template created")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"message":     "template created",
			"template_id": newID,
			"saved_tags":  len(t.Tags),
		})

	case "update":
		if id == 0 {
			writeJSON(w, http.StatusOK, failure("template id required"))
			return
		}
		t, ok := templateInput(w, in)
		if !ok {
			return
		}
		t.ID, t.Owner = id, username
		if err := s.store.UpdateTemplate(r.Context(), t); err != nil {
			s.storeError(w, r, err)
			return
		}
		log.Info().Int64("template_id", id).Str("username", username).Msg("template updated")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "template updated",
			"updated_tags": len(t.Tags),
		})

	case "delete":
		if id == 0 {
			writeJSON(w, http.StatusOK, failure("template id required"))
			return
		}
		if err := s.store.DeleteTemplate(r.Context(), id, username); err != nil {
			s.storeError(w, r, err)
			return
		}
		log.Info().Int64("template_id", id).Str("username", username).Msg("template deleted")
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "template deleted",
		})

	case "list":
		list, err := s.store.ListTemplates(r.Context(), username)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		out := make([]map[string]any, 0, len(list))
		for _, t := range list {
			out = append(out, map[string]any{
				"id":            t.ID,
				"template_name": t.Name,
				"description":   t.Description,
				"tag_count":     t.TagCount,
				"created_at":    normalize.FormatTimestamp(t.CreatedAt),
				"updated_at":    normalize.FormatTimestamp(t.UpdatedAt),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"templates": out,
		})

	case "detail":
		if id == 0 {
			writeJSON(w, http.StatusOK, failure("template id required"))
			return
		}
		t, err := s.store.GetTemplate(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, failure("template not found"))
			return
		}
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"template": map[string]any{
				"id":            t.ID,
				"template_name": t.Name,
				"description":   t.Description,
				"username":      t.Owner,
				"created_at":    normalize.FormatTimestamp(t.CreatedAt),
				"updated_at":    normalize.FormatTimestamp(t.UpdatedAt),
				"tags":          tags,
			},
		})

	default:
		writeJSON(w, http.StatusOK, failure("invalid action: "+action))
	}
}

// templateInput reads name, description and tags of a create or update request
func templateInput(w http.ResponseWriter, in map[string]any) (types.Template, bool) {
	name := strings.TrimSpace(normalize.String(in["template_name"]))
	if name == "" {
		writeJSON(w, http.StatusOK, failure("template name required"))
		return types.Template{}, false
	}
	return types.Template{
		Name:        name,
		Description: normalize.String(in["description"]),
		Tags:        normalize.SplitTags(in["tags"]),
	}, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, failure(msgNoAccess))
		return
	}
	s.serverError(w, r, err)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if action := r.URL.Query().Get("action"); action != "check_session" {
		writeJSON(w, http.StatusOK, failure("invalid action"))
		return
	}

	username := strings.TrimSpace(r.Header.Get(s.cfg.SessionHeader))
	if s.cfg.SessionHeader == "" || username == "" {
		writeJSON(w, http.StatusOK, failure("not logged in"))
		return
	}

	user := types.User{Username: username}
	if s.cfg.SessionNameHeader != "" {
		user.Name = strings.TrimSpace(r.Header.Get(s.cfg.SessionNameHeader))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}
