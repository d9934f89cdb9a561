package desk

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/adapters/cms"
	"github.com/aescanero/newsroom/pkg/adapters/llm/static"
	"github.com/aescanero/newsroom/pkg/domain"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDesk(t *testing.T, settings Settings) (*Desk, *cms.Publisher, *cms.Feed) {
	t.Helper()
	publisher := cms.NewArcXP(zap.NewNop())
	feed := cms.NewFeed("Newsroom", "https://news.example/", 10, zap.NewNop())
	d := New(settings, static.New(), publisher, feed, zap.NewNop())
	d.SetClock(func() time.Time { return fixedNow })
	return d, publisher, feed
}

func pitch(keywords ...string) domain.StoryPitch {
	return domain.StoryPitch{
		StoryID:      "story-1",
		Slug:         "city-council-budget",
		HeadlineIdea: "city council passes budget",
		Angle:        "What the new budget means for transit",
		Beat:         "local",
		Keywords:     keywords,
	}
}

func TestAssignAndReport(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	ctx := context.Background()

	a, err := d.Assign(ctx, pitch("budget", "transit"))
	require.NoError(t, err)
	assert.Equal(t, "Digital Desk", a.Desk)
	assert.Equal(t, "AutoPlanner", a.Assignee)
	assert.Equal(t, fixedNow.Add(6*time.Hour), a.Due)

	draft, err := d.Report(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "city council passes budget", draft.Hed)
	assert.Contains(t, draft.BodyMarkdown, "city council passes budget")
	assert.Equal(t, []string{"budget", "transit"}, draft.Tags)
	assert.False(t, draft.RequiresLegalReview)
}

func TestAssignRejectsInvalidPitch(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	_, err := d.Assign(context.Background(), domain.StoryPitch{StoryID: "s"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReportPropagatesCompleterErrors(t *testing.T) {
	boom := domain.Transient("llm", "complete", errors.New("overloaded"))
	d := New(DefaultSettings(), static.NewWithReply(func(string) (string, error) { return "", boom }),
		cms.NewArcXP(zap.NewNop()), nil, zap.NewNop())

	a, err := d.Assign(context.Background(), pitch("budget"))
	require.NoError(t, err)
	_, err = d.Report(context.Background(), a)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestFactCheck(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	ctx := context.Background()

	a, _ := d.Assign(ctx, pitch("budget"))
	draft, _ := d.Report(ctx, a)
	result, err := d.FactCheck(ctx, draft)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, "All claims verified.", result.ReportMarkdown)
	require.NoError(t, result.Validate())

	a, _ = d.Assign(ctx, pitch("budget", "Lawsuit"))
	draft, _ = d.Report(ctx, a)
	assert.True(t, draft.RequiresLegalReview)
	result, err = d.FactCheck(ctx, draft)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"legal review required"}, result.Flags)
	require.NoError(t, result.Validate())
}

func TestCopyEditAndPackage(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	ctx := context.Background()

	draft := domain.Draft{
		StoryID:      "story-1",
		Hed:          "city  council passes   budget",
		Dek:          "Transit wins",
		BodyMarkdown: "First line.  \n\n\n\nSecond line.\n",
		Tags:         []string{"Budget", "budget", "Transit"},
	}
	edit, err := d.CopyEdit(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, "city council passes budget", edit.Hed)
	assert.Equal(t, "First line.\n\nSecond line.", edit.Text)
	assert.Equal(t, []string{"City Council Passes Budget", "City council passes budget", "What to know: City council passes budget"}, edit.HeadlineVariants)
	assert.Equal(t, []string{"budget", "transit"}, edit.Tags)

	pkg, err := d.Package(ctx, edit, "")
	require.NoError(t, err)
	require.NoError(t, pkg.Validate())
	assert.Equal(t, "city-council-passes-budget", pkg.Slug)
	assert.Equal(t, "City Council Passes Budget", pkg.SeoTitle)
	assert.Equal(t, "Transit wins", pkg.SeoDescription)

	var ld map[string]any
	require.NoError(t, json.Unmarshal([]byte(pkg.SchemaOrgJSONLD), &ld))
	assert.Equal(t, "NewsArticle", ld["@type"])

	pkg, err = d.Package(ctx, edit, "custom-slug")
	require.NoError(t, err)
	assert.Equal(t, "custom-slug", pkg.Slug)
}

func TestPackageKeepsSeoFieldsWithinRuneLimits(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	ctx := context.Background()

	tests := []struct {
		name     string
		headline string
		dek      string
		kept     bool
	}{
		{"long ascii", strings.Repeat("Council budget vote ", 5)[:90], strings.Repeat("Residents react. ", 12), false},
		{"long spanish", "El ayuntamiento aprueba el presupuesto tras una sesión larguísima y tensa", strings.Repeat("Años de negociación según el alcalde. ", 5), false},
		{"long german", "Stadtrat beschließt Haushalt: Gebühren für Müll und Straßen steigen spürbar", strings.Repeat("Bürger äußern Ärger über höhere Gebühren. ", 5), false},
		{"short german", "Bürgermeisterin Jäger äußert: Straßenbahn fährt künftig über Brücke", "Die Linie fährt ab März.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edit := domain.CopyEditResult{
				StoryID:          "story-1",
				Hed:              tt.headline,
				Dek:              tt.dek,
				Text:             "Body.",
				HeadlineVariants: []string{tt.headline},
			}
			pkg, err := d.Package(ctx, edit, "budget-vote")
			require.NoError(t, err)
			assert.LessOrEqual(t, utf8.RuneCountInString(pkg.SeoTitle), 70)
			assert.LessOrEqual(t, utf8.RuneCountInString(pkg.SeoDescription), 160)
			assert.NoError(t, pkg.Validate())
			if tt.kept {
				assert.Equal(t, tt.headline, pkg.SeoTitle)
			} else {
				assert.True(t, strings.HasSuffix(pkg.SeoTitle, "…"))
			}

			req, err := d.Prepare(ctx, DraftFromPackage(pkg), pkg)
			require.NoError(t, err)
			assert.NotEmpty(t, req.CMSID)
		})
	}
}

func TestPrepareAndPublish(t *testing.T) {
	ctx := context.Background()
	pkg := domain.PackagingResult{StoryID: "story-1", SeoTitle: "Budget", Body: "Body", Slug: "budget", Tags: []string{"city hall"}}
	draft := DraftFromPackage(pkg)

	t.Run("immediate", func(t *testing.T) {
		d, publisher, feed := newTestDesk(t, DefaultSettings())
		req, err := d.Prepare(ctx, draft, pkg)
		require.NoError(t, err)
		assert.Equal(t, "arc-story-1", req.CMSID)
		assert.Nil(t, req.ScheduleAt)

		scheduled, err := d.Publish(ctx, req, pkg)
		require.NoError(t, err)
		assert.False(t, scheduled)
		doc, _ := publisher.Document(req.CMSID)
		assert.Equal(t, cms.StatusPublished, doc.Status)
		assert.Equal(t, 1, feed.Len())
	})

	t.Run("embargoed", func(t *testing.T) {
		d, publisher, feed := newTestDesk(t, DefaultSettings())
		embargo := fixedNow.Add(2 * time.Hour)
		held := pkg
		held.EmbargoUntil = &embargo

		req, err := d.Prepare(ctx, draft, held)
		require.NoError(t, err)
		require.NotNil(t, req.ScheduleAt)
		assert.True(t, req.ScheduleAt.Equal(embargo))

		scheduled, err := d.Publish(ctx, req, held)
		require.NoError(t, err)
		assert.True(t, scheduled)
		doc, _ := publisher.Document(req.CMSID)
		assert.Equal(t, cms.StatusScheduled, doc.Status)
		assert.Equal(t, 0, feed.Len())

		require.NoError(t, d.GoLive(ctx, req, held))
		doc, _ = publisher.Document(req.CMSID)
		assert.Equal(t, cms.StatusPublished, doc.Status)
	})

	t.Run("publish delay", func(t *testing.T) {
		settings := DefaultSettings()
		settings.PublishDelay = 15 * time.Minute
		d, _, _ := newTestDesk(t, settings)
		req, err := d.Prepare(ctx, draft, pkg)
		require.NoError(t, err)
		require.NotNil(t, req.ScheduleAt)
		assert.Equal(t, fixedNow.Add(15*time.Minute), *req.ScheduleAt)
	})

	t.Run("missing cms id", func(t *testing.T) {
		d, _, _ := newTestDesk(t, DefaultSettings())
		_, err := d.Publish(ctx, domain.PublishRequest{StoryID: "story-1"}, pkg)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestDistribute(t *testing.T) {
	d, _, _ := newTestDesk(t, DefaultSettings())
	pkg := &domain.PackagingResult{StoryID: "story-1", SeoTitle: "Budget passes", Tags: []string{"city hall", "budget"}}

	plan, err := d.Distribute(context.Background(), domain.PublishRequest{StoryID: "story-1", CMSID: "arc-story-1"}, pkg)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "social"}, plan.Channels)
	require.Len(t, plan.Posts, 2)
	assert.Equal(t, "Budget passes", plan.Posts[0].Text)
	assert.Equal(t, "Budget passes #cityhall #budget", plan.Posts[1].Text)

	plan, err = d.Distribute(context.Background(), domain.PublishRequest{StoryID: "story-1", CMSID: "arc-story-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "arc-story-1", plan.Posts[1].Text)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "cafe-opens-on-main-st", Slugify("Café opens on Main St."))
	assert.Equal(t, "2026-budget", Slugify("  2026 -- Budget!! "))
	assert.Equal(t, "", Slugify("!!!"))
}
