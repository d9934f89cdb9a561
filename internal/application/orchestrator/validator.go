package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aescanero/newsroom/pkg/domain"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// MaxKeywords caps the keywords a pitch may carry.
const MaxKeywords = 20

// Validator checks pitches before an instance is created.
type Validator struct {
	maxKeywords int
}

// NewValidator creates a new pitch validator
func NewValidator() *Validator {
	return &Validator{maxKeywords: MaxKeywords}
}

// Validate applies the pitch rules plus the orchestrator's intake rules.
func (v *Validator) Validate(p domain.StoryPitch) error {
	if err := p.Validate(); err != nil {
		return err
	}

	return domain.NewValidationError("pitch", validation.Errors{
		"slug": validation.Validate(p.Slug,
			validation.Match(slugPattern).Error("must be lowercase words joined by hyphens")),
		"keywords": validation.Validate(p.Keywords,
			validation.Length(1, v.maxKeywords),
			validation.By(uniqueKeywords)),
	}.Filter())
}

func uniqueKeywords(value interface{}) error {
	keywords, _ := value.([]string)
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		key := strings.ToLower(strings.TrimSpace(k))
		if seen[key] {
			return fmt.Errorf("duplicate keyword %q", k)
		}
		seen[key] = true
	}
	return nil
}
