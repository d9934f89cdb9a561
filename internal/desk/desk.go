// Package desk implements the editorial work of each pipeline stage. The
// orchestrator's activities and the agent handlers both call into it, so a
// story gets the same treatment in either pipeline mode.
package desk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

// Settings holds the desk's editorial defaults.
type Settings struct {
	DeskName         string
	Assignee         string
	DueIn            time.Duration
	PublishDelay     time.Duration
	FeaturedImageURL string
	Channels         []string
	// LegalKeywords flag a draft for legal review when any appears in the
	// story keywords.
	LegalKeywords []string
}

// DefaultSettings mirrors the newsroom's standing assignment rules.
func DefaultSettings() Settings {
	return Settings{
		DeskName:         "Digital Desk",
		Assignee:         "AutoPlanner",
		DueIn:            6 * time.Hour,
		FeaturedImageURL: "https://cdn.example/image.jpg",
		Channels:         []string{"web", "social"},
		LegalKeywords:    []string{"lawsuit", "allegation", "indictment", "court"},
	}
}

// Desk performs stage work against injected collaborators.
type Desk struct {
	settings   Settings
	ai         ports.Completer
	cms        ports.CMSPublisher
	syndicator ports.Syndicator
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a desk. syndicator may be nil.
func New(settings Settings, ai ports.Completer, cms ports.CMSPublisher, syndicator ports.Syndicator, logger *zap.Logger) *Desk {
	return &Desk{
		settings:   settings,
		ai:         ai,
		cms:        cms,
		syndicator: syndicator,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the desk's clock.
func (d *Desk) SetClock(now func() time.Time) {
	d.now = now
}

// Assign routes a pitch to the desk.
func (d *Desk) Assign(ctx context.Context, pitch domain.StoryPitch) (domain.Assignment, error) {
	if err := pitch.Validate(); err != nil {
		return domain.Assignment{}, err
	}
	assets := []string{"photo"}
	if len(pitch.Sources) > 0 {
		assets = append(assets, "source documents")
	}
	return domain.Assignment{
		StoryID:        pitch.StoryID,
		Desk:           d.settings.DeskName,
		Assignee:       d.settings.Assignee,
		Due:            d.now().Add(d.settings.DueIn),
		RequiredAssets: assets,
		Brief:          pitch.HeadlineIdea,
		Keywords:       append([]string(nil), pitch.Keywords...),
		EmbargoUntil:   pitch.EmbargoUntil,
	}, nil
}

// Report drafts the story with the completion provider.
func (d *Desk) Report(ctx context.Context, a domain.Assignment) (domain.Draft, error) {
	if err := a.Validate(); err != nil {
		return domain.Draft{}, err
	}

	hed := a.Brief
	if hed == "" {
		hed = "Auto hed for " + a.Desk
	}

	prompt := fmt.Sprintf("%s\nWrite a news story in markdown for the %s.\nKeywords: %s\nDue: %s",
		hed, a.Desk, strings.Join(a.Keywords, ", "), a.Due.Format(time.RFC3339))
	body, err := d.ai.Complete(ctx, prompt)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("failed to draft story: %w", err)
	}

	return domain.Draft{
		StoryID:             a.StoryID,
		Hed:                 hed,
		Dek:                 "Reporting from the " + a.Desk,
		BodyMarkdown:        body,
		Tags:                append([]string(nil), a.Keywords...),
		RequiresLegalReview: d.needsLegalReview(a.Keywords),
		EmbargoUntil:        a.EmbargoUntil,
	}, nil
}

// FactCheck verifies a draft. Legal-sensitive drafts fail and need an
// editor's approval.
func (d *Desk) FactCheck(ctx context.Context, draft domain.Draft) (domain.FactCheckResult, error) {
	if err := draft.Validate(); err != nil {
		return domain.FactCheckResult{}, err
	}

	var flags []string
	if draft.RequiresLegalReview {
		flags = append(flags, "legal review required")
	}
	if strings.TrimSpace(draft.Dek) == "" {
		flags = append(flags, "missing dek")
	}

	report := "All claims verified."
	if len(flags) > 0 {
		var b strings.Builder
		b.WriteString("Claims need editor review:\n")
		for _, f := range flags {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		report = b.String()
	}

	return domain.FactCheckResult{
		StoryID:        draft.StoryID,
		Pass:           len(flags) == 0,
		Flags:          flags,
		ReportMarkdown: report,
		Draft:          draft,
	}, nil
}

func (d *Desk) needsLegalReview(keywords []string) bool {
	for _, k := range keywords {
		for _, legal := range d.settings.LegalKeywords {
			if strings.EqualFold(strings.TrimSpace(k), legal) {
				return true
			}
		}
	}
	return false
}
