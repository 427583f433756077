package templates

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

// Document is the YAML backup format of a user's templates
type Document struct {
	Owner     string           `yaml:"owner,omitempty"`
	Templates []types.Template `yaml:"templates"`
}

// ImportResult counts what an import changed
type ImportResult struct {
	Created int
	Updated int
}

// Export writes every template of owner, with its ordered tags, as YAML
func (m *Manager) Export(ctx context.Context, owner string) ([]byte, error) {
	owner, err := m.requireOwner(owner)
	if err != nil {
		return nil, err
	}

	list, err := m.List(ctx, owner)
	if err != nil {
		return nil, err
	}

	doc := Document{Owner: owner, Templates: make([]types.Template, 0, len(list))}
	for _, s := range list {
		t, err := m.Detail(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to export template %q: %w", s.Name, err)
		}
		doc.Templates = append(doc.Templates, t)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode templates: %w", err)
	}
	return data, nil
}

// Import creates the templates of a YAML document for owner. A template whose name matches
// an existing one of the same owner replaces it.
func (m *Manager) Import(ctx context.Context, data []byte, owner string) (ImportResult, error) {
	var res ImportResult

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return res, fmt.Errorf("failed to decode templates: %w", err)
	}
	for i, t := range doc.Templates {
		if _, _, err := validate(t.Name, t.Tags); err != nil {
			return res, fmt.Errorf("template %d: %w", i+1, err)
		}
	}

	owner, err := m.requireOwner(owner)
	if err != nil {
		return res, err
	}

	existing, err := m.List(ctx, owner)
	if err != nil {
		return res, err
	}
	byName := make(map[string]int64, len(existing))
	for _, s := range existing {
		byName[strings.ToLower(s.Name)] = s.ID
	}

	for _, t := range doc.Templates {
		if id, ok := byName[strings.ToLower(strings.TrimSpace(t.Name))]; ok {
			if err := m.Update(ctx, id, t.Name, t.Description, t.Tags, owner); err != nil {
				return res, err
			}
			res.Updated++
			continue
		}
		created, err := m.Create(ctx, t.Name, t.Description, t.Tags, owner)
		if err != nil {
			return res, err
		}
		byName[strings.ToLower(created.Name)] = created.ID
		res.Created++
	}
	return res, nil
}
