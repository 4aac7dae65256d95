package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
)

var (
	ErrNotFound    = errors.New("template not found")
	ErrNotApproved = errors.New("template not approved")
	ErrMissingVar  = errors.New("missing template variable")
)

// Substitute replaces {{name}} placeholders in body with values from vars.
// Unknown placeholders are left as-is; validation happens in Render.
func Substitute(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Renderer resolves named templates, enforces the approval gate, and checks
// that every required variable was supplied.
type Renderer struct {
	templates repository.TemplatesRepository
}

func NewRenderer(templates repository.TemplatesRepository) *Renderer {
	return &Renderer{templates: templates}
}

func (r *Renderer) Render(ctx context.Context, tenantID int64, name string, vars map[string]string) (string, error) {
	t, err := r.templates.GetByName(ctx, tenantID, name)
	if err != nil {
		return "", fmt.Errorf("template lookup: %w", err)
	}
	if t == nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if t.Status != model.TemplateApproved {
		return "", fmt.Errorf("%w: %q is %s", ErrNotApproved, name, t.Status)
	}
	for _, required := range t.RequiredVars {
		if _, ok := vars[required]; !ok {
			return "", fmt.Errorf("%w: %q requires %q", ErrMissingVar, name, required)
		}
	}
	return Substitute(t.Body, vars), nil
}

// Validate runs the same checks as Render, discarding the body. Used at
// enqueue time so invalid template requests never enter the queue.
func (r *Renderer) Validate(ctx context.Context, tenantID int64, name string, vars map[string]string) error {
	_, err := r.Render(ctx, tenantID, name, vars)
	return err
}
