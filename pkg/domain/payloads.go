package domain

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Kind names a payload type. It doubles as the envelope Type discriminator.
type Kind string

const (
	KindStoryPitch       Kind = "StoryPitch"
	KindAssignment       Kind = "Assignment"
	KindDraft            Kind = "Draft"
	KindFactCheckResult  Kind = "FactCheckResult"
	KindCopyEditResult   Kind = "CopyEditResult"
	KindPackagingResult  Kind = "PackagingResult"
	KindPublishRequest   Kind = "PublishRequest"
	KindDistributionPlan Kind = "DistributionPlan"
)

// Kinds lists every payload kind known to the protocol.
var Kinds = []Kind{
	KindStoryPitch,
	KindAssignment,
	KindDraft,
	KindFactCheckResult,
	KindCopyEditResult,
	KindPackagingResult,
	KindPublishRequest,
	KindDistributionPlan,
}

// Payload is implemented by every member of the envelope payload union.
type Payload interface {
	Kind() Kind
	Story() StoryID
	Validate() error
}

// StoryPitch proposes a story.
type StoryPitch struct {
	StoryID      StoryID    `json:"storyId"`
	Slug         string     `json:"slug"`
	HeadlineIdea string     `json:"headlineIdea"`
	Angle        string     `json:"angle"`
	Beat         string     `json:"beat"`
	Keywords     []string   `json:"keywords"`
	EmbargoUntil *time.Time `json:"embargoUntil,omitempty"`
	Sources      []string   `json:"sources,omitempty"`
	Rationale    string     `json:"rationale,omitempty"`
	Priority     int        `json:"priority"`
}

func (p StoryPitch) Kind() Kind     { return KindStoryPitch }
func (p StoryPitch) Story() StoryID { return p.StoryID }

// Validate applies the pitch acceptance rules.
func (p StoryPitch) Validate() error {
	return NewValidationError("pitch", validation.ValidateStruct(&p,
		validation.Field(&p.StoryID, validation.Required),
		validation.Field(&p.Slug, validation.Required, validation.Length(1, 120)),
		validation.Field(&p.HeadlineIdea, validation.Required),
		validation.Field(&p.Angle, validation.Required),
		validation.Field(&p.Beat, validation.Required),
		validation.Field(&p.Keywords, validation.Required, validation.Each(validation.Required)),
		validation.Field(&p.Sources, validation.Each(validation.Required)),
		validation.Field(&p.Priority, validation.Min(0), validation.Max(5)),
	))
}

// Assignment hands a pitch to a desk.
type Assignment struct {
	StoryID        StoryID    `json:"storyId"`
	Desk           string     `json:"desk"`
	Assignee       string     `json:"assignee"`
	Due            time.Time  `json:"due"`
	RequiredAssets []string   `json:"requiredAssets,omitempty"`
	Brief          string     `json:"brief,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`
	EmbargoUntil   *time.Time `json:"embargoUntil,omitempty"`
}

func (a Assignment) Kind() Kind     { return KindAssignment }
func (a Assignment) Story() StoryID { return a.StoryID }

func (a Assignment) Validate() error {
	return NewValidationError("assignment", validation.ValidateStruct(&a,
		validation.Field(&a.StoryID, validation.Required),
		validation.Field(&a.Desk, validation.Required),
		validation.Field(&a.Assignee, validation.Required),
		validation.Field(&a.Due, validation.Required),
	))
}

// Draft is a reporter's copy.
type Draft struct {
	StoryID             StoryID    `json:"storyId"`
	Hed                 string     `json:"hed"`
	Dek                 string     `json:"dek"`
	BodyMarkdown        string     `json:"bodyMarkdown"`
	Tags                []string   `json:"tags,omitempty"`
	Links               []string   `json:"links,omitempty"`
	RequiresLegalReview bool       `json:"requiresLegalReview"`
	EmbargoUntil        *time.Time `json:"embargoUntil,omitempty"`
}

func (d Draft) Kind() Kind     { return KindDraft }
func (d Draft) Story() StoryID { return d.StoryID }

func (d Draft) Validate() error {
	return NewValidationError("draft", validation.ValidateStruct(&d,
		validation.Field(&d.StoryID, validation.Required),
		validation.Field(&d.Hed, validation.Required),
		validation.Field(&d.BodyMarkdown, validation.Required),
		validation.Field(&d.Links, validation.Each(is.URL)),
	))
}

// FactCheckResult reports whether a draft's claims held up. The checked draft
// travels with the result so the next stage does not need to look it up.
type FactCheckResult struct {
	StoryID        StoryID  `json:"storyId"`
	Pass           bool     `json:"pass"`
	Flags          []string `json:"flags,omitempty"`
	ReportMarkdown string   `json:"reportMarkdown"`
	Draft          Draft    `json:"draft"`
}

func (r FactCheckResult) Kind() Kind     { return KindFactCheckResult }
func (r FactCheckResult) Story() StoryID { return r.StoryID }

func (r FactCheckResult) Validate() error {
	errs := validation.Errors{}
	if r.StoryID == "" {
		errs["storyId"] = validation.NewError("validation_required", "cannot be blank")
	}
	if r.Draft.StoryID != r.StoryID {
		errs["draft"] = validation.NewError("newsroom.factcheck.draft_mismatch", "must belong to the same story")
	}
	if !r.Pass && len(r.Flags) == 0 {
		errs["flags"] = validation.NewError("newsroom.factcheck.flags_required", "failed checks must list at least one flag")
	}
	if len(errs) == 0 {
		return nil
	}
	return NewValidationError("fact check result", errs)
}

// CopyEditResult is the edited copy with alternate headlines.
type CopyEditResult struct {
	StoryID          StoryID    `json:"storyId"`
	Hed              string     `json:"hed"`
	Dek              string     `json:"dek"`
	Text             string     `json:"text"`
	HeadlineVariants []string   `json:"headlineVariants"`
	Tags             []string   `json:"tags,omitempty"`
	EmbargoUntil     *time.Time `json:"embargoUntil,omitempty"`
}

func (r CopyEditResult) Kind() Kind     { return KindCopyEditResult }
func (r CopyEditResult) Story() StoryID { return r.StoryID }

func (r CopyEditResult) Validate() error {
	return NewValidationError("copy edit result", validation.ValidateStruct(&r,
		validation.Field(&r.StoryID, validation.Required),
		validation.Field(&r.Text, validation.Required),
		validation.Field(&r.HeadlineVariants, validation.Required, validation.Each(validation.Required)),
	))
}

// PackagingResult carries the SEO and presentation metadata for publishing.
type PackagingResult struct {
	StoryID          StoryID    `json:"storyId"`
	Slug             string     `json:"slug"`
	SeoTitle         string     `json:"seoTitle"`
	SeoDescription   string     `json:"seoDescription"`
	SchemaOrgJSONLD  string     `json:"schemaOrgJsonLd"`
	FeaturedImageURL string     `json:"featuredImageUrl,omitempty"`
	Body             string     `json:"body"`
	Tags             []string   `json:"tags,omitempty"`
	EmbargoUntil     *time.Time `json:"embargoUntil,omitempty"`
}

func (r PackagingResult) Kind() Kind     { return KindPackagingResult }
func (r PackagingResult) Story() StoryID { return r.StoryID }

func (r PackagingResult) Validate() error {
	return NewValidationError("packaging result", validation.ValidateStruct(&r,
		validation.Field(&r.StoryID, validation.Required),
		validation.Field(&r.SeoTitle, validation.Required, validation.RuneLength(1, 70)),
		validation.Field(&r.SeoDescription, validation.RuneLength(0, 160)),
		validation.Field(&r.FeaturedImageURL, is.URL),
		validation.Field(&r.Body, validation.Required),
	))
}

// PublishRequest asks for a CMS document to go live, now or at ScheduleAt.
type PublishRequest struct {
	StoryID    StoryID    `json:"storyId"`
	CMSID      string     `json:"cmsId,omitempty"`
	ScheduleAt *time.Time `json:"scheduleAt,omitempty"`
}

func (r PublishRequest) Kind() Kind     { return KindPublishRequest }
func (r PublishRequest) Story() StoryID { return r.StoryID }

func (r PublishRequest) Validate() error {
	return NewValidationError("publish request", validation.ValidateStruct(&r,
		validation.Field(&r.StoryID, validation.Required),
	))
}

// Post is one channel-specific message in a distribution plan.
type Post struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// DistributionPlan lists where a published story is promoted.
type DistributionPlan struct {
	StoryID  StoryID  `json:"storyId"`
	Channels []string `json:"channels"`
	Posts    []Post   `json:"posts,omitempty"`
}

func (p DistributionPlan) Kind() Kind     { return KindDistributionPlan }
func (p DistributionPlan) Story() StoryID { return p.StoryID }

func (p DistributionPlan) Validate() error {
	return NewValidationError("distribution plan", validation.ValidateStruct(&p,
		validation.Field(&p.StoryID, validation.Required),
		validation.Field(&p.Channels, validation.Required, validation.Each(validation.Required)),
	))
}

// SignalEditorApproval is the external signal consumed by AwaitingApproval.
const SignalEditorApproval = "EditorApproval"

// Approval is an editor's decision on a story held for review.
type Approval struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
