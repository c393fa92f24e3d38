package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// FastProvider scores with a single HTTP call per article against a
// low-latency endpoint. Suited to the default "fast" configuration.
type FastProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewFastProvider creates a FastProvider for endpoint, authenticated by apiKey.
func NewFastProvider(endpoint, apiKey string) *FastProvider {
	return &FastProvider{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{}}
}

type scoreRequest struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

type scoreResponse struct {
	Sentiment float64 `json:"sentiment"`
}

// Score implements Scorer. The caller controls the timeout via ctx.
func (p *FastProvider) Score(ctx context.Context, headline, summary string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Headline: headline, Summary: summary})
	if err != nil {
		return 0, fmt.Errorf("%w: marshal request: %v", ErrUndefined, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrUndefined, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUndefined, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("%w: provider status %d", ErrUndefined, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrUndefined, err)
	}

	return clipUnit(out.Sentiment), nil
}
