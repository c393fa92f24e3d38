package news

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"time"

	"sentimentengine/internal/model"
)

// rssFeed is the minimal subset of an RSS 2.0 document this parser needs.
// There is no ecosystem RSS library exercised anywhere in the retrieved
// corpus, so this uses encoding/xml directly (see DESIGN.md).
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"` // RFC-2822
}

// FeedConfig mirrors RSS_FEEDS_CONFIG_PATH's JSON shape: {"feeds": [{"url","source"}]}.
type FeedConfig struct {
	Feeds []FeedEntry `json:"feeds"`
}

type FeedEntry struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

// LoadFeedConfig reads and parses the RSS feed list from path.
func LoadFeedConfig(path string) (FeedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("news: read feed config: %w", err)
	}
	var cfg FeedConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return FeedConfig{}, fmt.Errorf("news: parse feed config: %w", err)
	}
	return cfg, nil
}

// RSSFetcher fetches and parses one RSS feed per Unit.ID (the feed URL).
type RSSFetcher struct {
	Client *http.Client
}

// NewRSSFetcher creates an RSSFetcher with its own HTTP client.
func NewRSSFetcher() *RSSFetcher {
	return &RSSFetcher{Client: &http.Client{}}
}

// Fetch implements FetchFunc for RSS feeds.
func (f *RSSFetcher) Fetch(ctx context.Context, unit Unit) ([]model.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, unit.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rss: rate limited (429)")
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("rss: unexpected status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("rss: parse: %w", err)
	}

	out := make([]model.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		var publishTime time.Time
		if item.PubDate != "" {
			if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
				publishTime = t
			} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
				publishTime = t
			}
		}
		// A feed item with no parseable publish date is still returned —
		// the collector's isToday filter drops it, per the spec's
		// explicit "drop if absent" resolution.
		out = append(out, model.Article{
			Headline:    item.Title,
			Summary:     item.Description,
			URL:         item.Link,
			PublishTime: publishTime,
		})
	}
	return out, nil
}
