// Package templates is the CRUD façade over the template manager endpoint. Validation and
// identity checks happen locally, so a rejected call never reaches the network.
package templates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/client"
	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// Local validation failures
var (
	ErrNameRequired  = errors.New("name required")
	ErrNoTags        = errors.New("at least one tag required")
	ErrLoginRequired = errors.New("please log in")
	ErrIDRequired    = errors.New("template id required")
)

// ErrNotFoundOrForbidden is returned when the backend refuses a template because it does not
// exist or belongs to someone else.
var ErrNotFoundOrForbidden = errors.New("template not found or access denied")

// Unauthenticated is the identity resolved when no user is known
const Unauthenticated = ""

const (
	endpoint    = client.EndpointTemplateManager
	cachePrefix = client.EndpointTemplateManager
)

// Requester performs backend calls
type Requester interface {
	Request(ctx context.Context, endpoint string, params map[string]any, method string, body any) *client.Result
	ClearCache(ctx context.Context, pattern string) int
}

// SessionChecker reports the authenticated user
type SessionChecker interface {
	CheckSession(ctx context.Context) (*types.User, error)
}

// Manager performs template operations on behalf of a user
type Manager struct {
	api    Requester
	logger zerolog.Logger

	mu      sync.RWMutex
	session *types.User
}

// NewManager creates a template manager
func NewManager(api Requester, logger zerolog.Logger) *Manager {
	return &Manager{
		api:    api,
		logger: logger.With().Str("component", "templates").Logger(),
	}
}

// SetSession records the authenticated user, or forgets it when u is nil
func (m *Manager) SetSession(u *types.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = u
}

// Authenticate asks the backend for the session user and records it
func (m *Manager) Authenticate(ctx context.Context, s SessionChecker) (*types.User, error) {
	u, err := s.CheckSession(ctx)
	if err != nil {
		m.SetSession(nil)
		return nil, err
	}
	m.SetSession(u)
	return u, nil
}

// Owner resolves the acting username: the explicit value, then the session user, then
// Unauthenticated.
func (m *Manager) Owner(explicit string) string {
	if owner := strings.TrimSpace(explicit); owner != "" {
		return owner
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session != nil {
		return strings.TrimSpace(m.session.Username)
	}
	return Unauthenticated
}

func (m *Manager) requireOwner(explicit string) (string, error) {
	owner := m.Owner(explicit)
	if owner == Unauthenticated {
		return "", ErrLoginRequired
	}
	return owner, nil
}

func validate(name string, tags []string) (string, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, ErrNameRequired
	}
	cleaned := normalize.SplitTags(tags)
	if len(cleaned) == 0 {
		return "", nil, ErrNoTags
	}
	return name, cleaned, nil
}

// mutate posts a mutation and clears cached template responses on success
func (m *Manager) mutate(ctx context.Context, body map[string]any) (map[string]any, error) {
	res := m.api.Request(ctx, endpoint, nil, http.MethodPost, body)
	if err := res.Err(); err != nil {
		return nil, err
	}
	obj, _ := res.Data.(map[string]any)
	if ok, msg := normalize.Envelope(res.Data); !ok {
		return obj, &client.AppError{Endpoint: endpoint, Message: fallback(msg, fmt.Sprintf("%s failed", body["action"]))}
	}
	m.api.ClearCache(ctx, cachePrefix)
	return obj, nil
}

// Create saves a new template and returns it with its id
func (m *Manager) Create(ctx context.Context, name, description string, tags []string, owner string) (types.Template, error) {
	name, tags, err := validate(name, tags)
	if err != nil {
		return types.Template{}, err
	}
	owner, err = m.requireOwner(owner)
	if err != nil {
		return types.Template{}, err
	}

	obj, err := m.mutate(ctx, map[string]any{
		"action":        "create",
		"username":      owner,
		"template_name": name,
		"description":   description,
		"tags":          tags,
	})
	if err != nil {
		return types.Template{}, fmt.Errorf("failed to create template: %w", err)
	}

	t := types.Template{
		ID:          normalize.ID(first(obj, "template_id", "id")),
		Name:        name,
		Description: description,
		Owner:       owner,
		Tags:        tags,
	}
	m.logger.Info().Int64("template_id", t.ID).Str("username", owner).Int("tags", len(tags)).Msg("template created")
	return t, nil
}

// Update replaces name, description and the whole ordered tag list of a template
func (m *Manager) Update(ctx context.Context, id int64, name, description string, tags []string, owner string) error {
	if id <= 0 {
		return ErrIDRequired
	}
	name, tags, err := validate(name, tags)
	if err != nil {
		return err
	}
	owner, err = m.requireOwner(owner)
	if err != nil {
		return err
	}

	_, err = m.mutate(ctx, map[string]any{
		"action":        "update",
		"id":            id,
		"template_id":   id,
		"username":      owner,
		"template_name": name,
		"description":   description,
		"tags":          tags,
	})
	if err != nil {
		return fmt.Errorf("failed to update template %d: %w", id, err)
	}
	m.logger.Info().Int64("template_id", id).Str("username", owner).Int("tags", len(tags)).Msg("template updated")
	return nil
}

// Remove deletes a template owned by owner
func (m *Manager) Remove(ctx context.Context, id int64, owner string) error {
	owner, err := m.requireOwner(owner)
	if err != nil {
		return err
	}
	if id <= 0 {
		return ErrIDRequired
	}

	_, err = m.mutate(ctx, map[string]any{
		"action":      "delete",
		"id":          id,
		"template_id": id,
		"username":    owner,
	})
	if err != nil {
		return fmt.Errorf("failed to delete template %d: %w", id, refusal(err))
	}
	m.logger.Info().Int64("template_id", id).Str("username", owner).Msg("template deleted")
	return nil
}

// List returns the templates of owner, most recently updated first
func (m *Manager) List(ctx context.Context, owner string) ([]types.TemplateSummary, error) {
	owner, err := m.requireOwner(owner)
	if err != nil {
		return nil, err
	}

	res := m.api.Request(ctx, endpoint, map[string]any{"action": "list", "username": owner}, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	if ok, msg := normalize.Envelope(res.Data); !ok {
		return nil, &client.AppError{Endpoint: endpoint, Message: fallback(msg, "list failed")}
	}
	return normalize.TemplateList(res.Data), nil
}

// Detail returns a template with its ordered tags. The username is sent when known.
func (m *Manager) Detail(ctx context.Context, id int64) (types.Template, error) {
	if id <= 0 {
		return types.Template{}, ErrIDRequired
	}
	params := map[string]any{"action": "detail", "template_id": id}
	if owner := m.Owner(""); owner != Unauthenticated {
		params["username"] = owner
	}

	res := m.api.Request(ctx, endpoint, params, http.MethodGet, nil)
	if err := res.Err(); err != nil {
		return types.Template{}, fmt.Errorf("failed to load template %d: %w", id, err)
	}
	detail := normalize.TemplateDetail(res.Data)
	if !detail.OK {
		return types.Template{}, fmt.Errorf("%w: %s", ErrNotFoundOrForbidden, detail.Message)
	}
	if detail.Template.ID == 0 {
		detail.Template.ID = id
	}
	return detail.Template, nil
}

// refusal turns a backend refusal into ErrNotFoundOrForbidden, keeping the backend message
func refusal(err error) error {
	var ae *client.AppError
	if errors.As(err, &ae) {
		return fmt.Errorf("%w: %s", ErrNotFoundOrForbidden, ae.Message)
	}
	return err
}

func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
