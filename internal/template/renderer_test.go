package template_test

import (
	"context"
	"testing"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTemplates struct {
	byName map[string]*model.Template
}

func (f *fakeTemplates) GetByName(_ context.Context, _ int64, name string) (*model.Template, error) {
	return f.byName[name], nil
}

func (f *fakeTemplates) IncrementUsage(_ context.Context, _ int64, _ string) error { return nil }

func TestSubstitute(t *testing.T) {
	out := template.Substitute("Olá {{name}}, o imóvel {{code}} está disponível.", map[string]string{
		"name": "Ana",
		"code": "AP-102",
	})
	assert.Equal(t, "Olá Ana, o imóvel AP-102 está disponível.", out)
}

func TestSubstituteLeavesUnknownPlaceholders(t *testing.T) {
	out := template.Substitute("Oi {{name}}", nil)
	assert.Equal(t, "Oi {{name}}", out)
}

func TestRenderApprovedTemplate(t *testing.T) {
	r := template.NewRenderer(&fakeTemplates{byName: map[string]*model.Template{
		"visit_reminder": {
			Name:         "visit_reminder",
			Body:         "Visita em {{date}} às {{time}}.",
			RequiredVars: model.StringList{"date", "time"},
			Status:       model.TemplateApproved,
		},
	}})

	body, err := r.Render(context.Background(), 1, "visit_reminder", map[string]string{
		"date": "10/07", "time": "14:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "Visita em 10/07 às 14:00.", body)
}

func TestRenderMissingVariable(t *testing.T) {
	r := template.NewRenderer(&fakeTemplates{byName: map[string]*model.Template{
		"visit_reminder": {
			Name:         "visit_reminder",
			Body:         "Visita em {{date}}.",
			RequiredVars: model.StringList{"date"},
			Status:       model.TemplateApproved,
		},
	}})

	_, err := r.Render(context.Background(), 1, "visit_reminder", map[string]string{})
	assert.ErrorIs(t, err, template.ErrMissingVar)
}

func TestRenderUnapprovedTemplate(t *testing.T) {
	r := template.NewRenderer(&fakeTemplates{byName: map[string]*model.Template{
		"promo": {Name: "promo", Body: "x", Status: model.TemplatePending},
	}})

	_, err := r.Render(context.Background(), 1, "promo", nil)
	assert.ErrorIs(t, err, template.ErrNotApproved)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := template.NewRenderer(&fakeTemplates{byName: map[string]*model.Template{}})

	_, err := r.Render(context.Background(), 1, "nope", nil)
	assert.ErrorIs(t, err, template.ErrNotFound)
}
