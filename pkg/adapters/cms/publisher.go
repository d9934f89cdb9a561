// Package cms provides simulated CMS publishers and RSS syndication.
package cms

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
)

// Document states.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusPublished = "published"
)

// Document is a story as stored in the CMS.
type Document struct {
	ID          string     `json:"id"`
	StoryID     string     `json:"storyId"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Dek         string     `json:"dek"`
	Description string     `json:"description"`
	HTML        string     `json:"html"`
	JSONLD      string     `json:"jsonLd"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Status      string     `json:"status"`
	Revision    int        `json:"revision"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Publisher is an in-process CMS. Document IDs are the provider prefix plus
// the story ID, so repeated CreateOrUpdate calls for a story update one
// document.
type Publisher struct {
	name   string
	prefix string
	md     goldmark.Markdown
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	docs map[string]*Document
}

func newPublisher(name, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		name:   name,
		prefix: prefix,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithXHTML()),
		),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		docs:   make(map[string]*Document),
	}
}

// NewWordPressVIP returns a publisher issuing "wpvip-" document IDs.
func NewWordPressVIP(logger *zap.Logger) *Publisher {
	return newPublisher("wpvip", "wpvip-", logger)
}

// NewArcXP returns a publisher issuing "arc-" document IDs.
func NewArcXP(logger *zap.Logger) *Publisher {
	return newPublisher("arcxp", "arc-", logger)
}

// New selects a publisher by provider name.
func New(provider string, logger *zap.Logger) (*Publisher, error) {
	switch provider {
	case "wpvip":
		return NewWordPressVIP(logger), nil
	case "arcxp":
		return NewArcXP(logger), nil
	default:
		return nil, fmt.Errorf("unsupported CMS provider: %s", provider)
	}
}

// Name returns the provider name.
func (p *Publisher) Name() string {
	return p.name
}

// CreateOrUpdate renders the packaged body and upserts the document.
func (p *Publisher) CreateOrUpdate(ctx context.Context, draft domain.Draft, pkg domain.PackagingResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pkg.StoryID == "" || pkg.StoryID != draft.StoryID {
		return "", domain.Permanent(p.name, "create", fmt.Errorf("draft and package must belong to one story"))
	}

	body := pkg.Body
	if body == "" {
		body = draft.BodyMarkdown
	}
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(body), &buf); err != nil {
		return "", domain.Permanent(p.name, "render", err)
	}

	id := p.prefix + string(pkg.StoryID)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.docs[id]
	if !ok {
		doc = &Document{ID: id, StoryID: string(pkg.StoryID), Status: StatusDraft}
		p.docs[id] = doc
	}
	doc.Slug = pkg.Slug
	doc.Title = pkg.SeoTitle
	doc.Dek = draft.Dek
	doc.Description = pkg.SeoDescription
	doc.HTML = buf.String()
	doc.JSONLD = pkg.SchemaOrgJSONLD
	doc.ImageURL = pkg.FeaturedImageURL
	doc.Tags = append([]string(nil), pkg.Tags...)
	doc.Revision++
	doc.UpdatedAt = now

	p.logger.Info("cms document saved",
		zap.String("cms", p.name),
		zap.String("cms_id", id),
		zap.String("story_id", string(pkg.StoryID)),
		zap.Int("revision", doc.Revision))
	return id, nil
}

// Schedule marks the document to go live at when.
func (p *Publisher) Schedule(ctx context.Context, cmsID string, when time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.docs[cmsID]
	if !ok {
		return domain.Permanent(p.name, "schedule", fmt.Errorf("document %s not found", cmsID))
	}
	if doc.Status == StatusPublished {
		return nil
	}
	when = when.UTC()
	doc.Status = StatusScheduled
	doc.ScheduledAt = &when
	doc.UpdatedAt = p.now()

	p.logger.Info("cms document scheduled",
		zap.String("cms", p.name),
		zap.String("cms_id", cmsID),
		zap.Time("at", when))
	return nil
}

// PublishNow makes the document live. Publishing twice is a no-op.
func (p *Publisher) PublishNow(ctx context.Context, cmsID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.docs[cmsID]
	if !ok {
		return domain.Permanent(p.name, "publish", fmt.Errorf("document %s not found", cmsID))
	}
	if doc.Status == StatusPublished {
		return nil
	}
	now := p.now()
	doc.Status = StatusPublished
	doc.PublishedAt = &now
	doc.UpdatedAt = now

	p.logger.Info("cms document published",
		zap.String("cms", p.name),
		zap.String("cms_id", cmsID))
	return nil
}

// Document returns a copy of a stored document.
func (p *Publisher) Document(cmsID string) (Document, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.docs[cmsID]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Documents returns copies of every document ordered by ID.
func (p *Publisher) Documents() []Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Document, 0, len(p.docs))
	for _, doc := range p.docs {
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
