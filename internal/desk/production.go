package desk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/aescanero/newsroom/pkg/domain"
)

const (
	maxSeoTitle       = 70
	maxSeoDescription = 160
)

// CopyEdit tidies the copy and proposes headline variants.
func (d *Desk) CopyEdit(ctx context.Context, draft domain.Draft) (domain.CopyEditResult, error) {
	if err := draft.Validate(); err != nil {
		return domain.CopyEditResult{}, err
	}

	title := cases.Title(language.English)
	hed := collapseSpaces(draft.Hed)
	variants := uniq([]string{
		title.String(hed),
		sentenceCase(hed),
		"What to know: " + sentenceCase(hed),
	})

	return domain.CopyEditResult{
		StoryID:          draft.StoryID,
		Hed:              hed,
		Dek:              collapseSpaces(draft.Dek),
		Text:             tidyMarkdown(draft.BodyMarkdown),
		HeadlineVariants: variants,
		Tags:             uniq(lowerAll(draft.Tags)),
		EmbargoUntil:     draft.EmbargoUntil,
	}, nil
}

// Package builds the SEO and presentation metadata. An empty slug is derived
// from the headline.
func (d *Desk) Package(ctx context.Context, edit domain.CopyEditResult, slug string) (domain.PackagingResult, error) {
	if err := edit.Validate(); err != nil {
		return domain.PackagingResult{}, err
	}
	if slug == "" {
		slug = Slugify(edit.Hed)
	}

	seoTitle := truncate(edit.HeadlineVariants[0], maxSeoTitle)
	description := edit.Dek
	if description == "" {
		description = firstSentence(edit.Text)
	}
	description = truncate(description, maxSeoDescription)

	jsonLD, err := json.Marshal(map[string]any{
		"@context":    "https://schema.org",
		"@type":       "NewsArticle",
		"headline":    seoTitle,
		"description": description,
		"image":       []string{d.settings.FeaturedImageURL},
		"keywords":    strings.Join(edit.Tags, ", "),
	})
	if err != nil {
		return domain.PackagingResult{}, fmt.Errorf("failed to build json-ld: %w", err)
	}

	return domain.PackagingResult{
		StoryID:          edit.StoryID,
		Slug:             slug,
		SeoTitle:         seoTitle,
		SeoDescription:   description,
		SchemaOrgJSONLD:  string(jsonLD),
		FeaturedImageURL: d.settings.FeaturedImageURL,
		Body:             edit.Text,
		Tags:             edit.Tags,
		EmbargoUntil:     edit.EmbargoUntil,
	}, nil
}

// Prepare saves the packaged story to the CMS and decides when it goes live:
// at the embargo if one is pending, after the configured publish delay, or
// immediately.
func (d *Desk) Prepare(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (domain.PublishRequest, error) {
	cmsID, err := d.cms.CreateOrUpdate(ctx, draft, pkg)
	if err != nil {
		return domain.PublishRequest{}, fmt.Errorf("failed to save story to cms: %w", err)
	}

	req := domain.PublishRequest{StoryID: pkg.StoryID, CMSID: cmsID}
	now := d.now()
	switch {
	case pkg.EmbargoUntil != nil && pkg.EmbargoUntil.After(now):
		at := pkg.EmbargoUntil.UTC()
		req.ScheduleAt = &at
	case d.settings.PublishDelay > 0:
		at := now.Add(d.settings.PublishDelay)
		req.ScheduleAt = &at
	}
	return req, nil
}

// Publish schedules the CMS document when the request has a future time,
// otherwise makes it live. It reports whether the story was only scheduled.
func (d *Desk) Publish(ctx context.Context, req domain.PublishRequest, pkg domain.PackagingResult) (bool, error) {
	if req.CMSID == "" {
		return false, &domain.ValidationError{Subject: "publish request", Reasons: []string{"cmsId: cannot be blank"}}
	}
	if req.ScheduleAt != nil && req.ScheduleAt.After(d.now()) {
		if err := d.cms.Schedule(ctx, req.CMSID, *req.ScheduleAt); err != nil {
			return false, fmt.Errorf("failed to schedule story: %w", err)
		}
		return true, nil
	}
	return false, d.GoLive(ctx, req, pkg)
}

// GoLive publishes the CMS document and syndicates it.
func (d *Desk) GoLive(ctx context.Context, req domain.PublishRequest, pkg domain.PackagingResult) error {
	if err := d.cms.PublishNow(ctx, req.CMSID); err != nil {
		return fmt.Errorf("failed to publish story: %w", err)
	}
	if d.syndicator != nil {
		if err := d.syndicator.Syndicate(ctx, req.CMSID, pkg); err != nil {
			// the story is live; a missing feed entry is not worth failing it
			d.logger.Warn("syndication failed",
				zap.String("story_id", string(req.StoryID)),
				zap.String("cms_id", req.CMSID),
				zap.Error(err))
		}
	}
	return nil
}

// Distribute plans promotion on every configured channel. pkg may be nil when
// only the publish request is known.
func (d *Desk) Distribute(ctx context.Context, req domain.PublishRequest, pkg *domain.PackagingResult) (domain.DistributionPlan, error) {
	plan := domain.DistributionPlan{
		StoryID:  req.StoryID,
		Channels: append([]string(nil), d.settings.Channels...),
	}
	title := req.CMSID
	var tags []string
	if pkg != nil {
		title = pkg.SeoTitle
		tags = pkg.Tags
	}
	for _, channel := range plan.Channels {
		text := title
		if channel == "social" && len(tags) > 0 {
			text = title + " " + hashtags(tags)
		}
		plan.Posts = append(plan.Posts, domain.Post{Channel: channel, Text: text})
	}
	return plan, plan.Validate()
}

// DraftFromPackage rebuilds the CMS input when only the package is at hand.
func DraftFromPackage(pkg domain.PackagingResult) domain.Draft {
	return domain.Draft{
		StoryID:      pkg.StoryID,
		Hed:          pkg.SeoTitle,
		Dek:          pkg.SeoDescription,
		BodyMarkdown: pkg.Body,
		Tags:         pkg.Tags,
		EmbargoUntil: pkg.EmbargoUntil,
	}
}

// Slugify lowercases s, folds accents and joins words with hyphens.
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

func sentenceCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tidyMarkdown(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func firstSentence(s string) string {
	s = collapseSpaces(strings.TrimLeft(s, "# "))
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return s[:i+1]
	}
	return s
}

// truncate cuts s to at most max runes, the trailing ellipsis included.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func hashtags(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		if slug := strings.ReplaceAll(Slugify(t), "-", ""); slug != "" {
			parts = append(parts, "#"+slug)
		}
	}
	return strings.Join(parts, " ")
}
