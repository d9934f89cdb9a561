package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aescanero/newsroom/pkg/domain"
)

func TestValidator(t *testing.T) {
	many := make([]string, MaxKeywords+1)
	for i := range many {
		many[i] = fmt.Sprintf("kw%d", i)
	}

	tests := []struct {
		name    string
		modify  func(p *domain.StoryPitch)
		wantErr string
	}{
		{"valid", func(*domain.StoryPitch) {}, ""},
		{"missing angle", func(p *domain.StoryPitch) { p.Angle = "" }, "angle"},
		{"uppercase slug", func(p *domain.StoryPitch) { p.Slug = "Council-Budget" }, "slug"},
		{"slug with spaces", func(p *domain.StoryPitch) { p.Slug = "council budget" }, "slug"},
		{"duplicate keywords", func(p *domain.StoryPitch) { p.Keywords = []string{"budget", "Budget "} }, "duplicate keyword"},
		{"too many keywords", func(p *domain.StoryPitch) { p.Keywords = many }, "keywords"},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pitch("council-budget")
			tt.modify(&p)
			err := v.Validate(p)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
