package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sentimentengine/internal/model"
)

// wireArticle is the abstract JSON article shape shared by the company-news
// and market-news APIs: {headline, summary, url, datetime, symbol?}.
type wireArticle struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"` // epoch seconds
	Symbol   string `json:"symbol,omitempty"`
}

// HTTPAPI fetches articles from a JSON news API keyed by API key, one
// ticker (or "market") at a time.
type HTTPAPI struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPAPI creates an HTTPAPI with a 3s-capable client (actual deadline
// enforced by the collector's fetch context).
func NewHTTPAPI(baseURL, apiKey string) *HTTPAPI {
	return &HTTPAPI{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{},
	}
}

// FetchCompanyNews implements FetchFunc for the per-ticker company-news API.
func (a *HTTPAPI) FetchCompanyNews(ctx context.Context, unit Unit) ([]model.Article, error) {
	q := url.Values{}
	q.Set("symbol", unit.ID)
	q.Set("token", a.APIKey)
	return a.fetch(ctx, model.SourceCompanyNews, unit, q)
}

// FetchMarketNews implements FetchFunc for the single "market" target.
func (a *HTTPAPI) FetchMarketNews(ctx context.Context, unit Unit) ([]model.Article, error) {
	q := url.Values{}
	q.Set("category", "general")
	q.Set("token", a.APIKey)
	return a.fetch(ctx, model.SourceMarketNews, unit, q)
}

func (a *HTTPAPI) fetch(ctx context.Context, source string, unit Unit, q url.Values) ([]model.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("news: build request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("news: rate limited (429)")
	}
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		// 4xx other than 429 is logged and skipped by the caller, not retried here.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("news: client error %d: %s", resp.StatusCode, body)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("news: unexpected status %d", resp.StatusCode)
	}

	var wire []wireArticle
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("news: decode: %w", err)
	}

	out := make([]model.Article, 0, len(wire))
	for _, w := range wire {
		sym := w.Symbol
		if sym == "" {
			sym = unit.Symbol
		}
		out = append(out, model.Article{
			Symbol:      sym,
			Headline:    w.Headline,
			Summary:     w.Summary,
			URL:         w.URL,
			PublishTime: time.Unix(w.Datetime, 0).UTC(),
		})
	}
	return out, nil
}
