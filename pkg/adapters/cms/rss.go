package cms

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
)

// Feed collects syndicated stories and renders them as RSS 2.0.
type Feed struct {
	title   string
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
	limit   int

	mu    sync.Mutex
	items []rssItem
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Description string   `xml:"description"`
	Categories  []string `xml:"category,omitempty"`
	PubDate     string   `xml:"pubDate"`
}

// NewFeed creates a feed linking items under baseURL. At most limit items are
// kept, newest first.
func NewFeed(title, baseURL string, limit int, logger *zap.Logger) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{
		title:   title,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		limit:   limit,
	}
}

// Syndicate adds or refreshes the feed item for a published document.
func (f *Feed) Syndicate(ctx context.Context, cmsID string, pkg domain.PackagingResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item := rssItem{
		Title:       pkg.SeoTitle,
		Link:        fmt.Sprintf("%s/%s", f.baseURL, pkg.Slug),
		GUID:        cmsID,
		Description: pkg.SeoDescription,
		Categories:  append([]string(nil), pkg.Tags...),
		PubDate:     f.now().Format(time.RFC1123Z),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.items[:0]
	for _, existing := range f.items {
		if existing.GUID != cmsID {
			kept = append(kept, existing)
		}
	}
	f.items = append([]rssItem{item}, kept...)
	if len(f.items) > f.limit {
		f.items = f.items[:f.limit]
	}

	f.logger.Debug("story syndicated",
		zap.String("cms_id", cmsID),
		zap.String("story_id", string(pkg.StoryID)))
	return nil
}

// Len returns the number of items in the feed.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// RSS renders the feed.
func (f *Feed) RSS() ([]byte, error) {
	f.mu.Lock()
	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         f.title,
			Link:          f.baseURL,
			Description:   f.title + " latest stories",
			LastBuildDate: f.now().Format(time.RFC1123Z),
			Items:         append([]rssItem(nil), f.items...),
		},
	}
	f.mu.Unlock()

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
