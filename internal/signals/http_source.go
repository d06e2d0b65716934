package signals

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// HTTPSource calls an external scanner service: it POSTs the recent bar
// window and receives zero or more entry signals back.
type HTTPSource struct {
	client *resty.Client
	url    string
}

type scanRequest struct {
	Ticker string      `json:"ticker"`
	Bars   []types.Bar `json:"bars"`
}

type scanResponse struct {
	Signals []types.Signal `json:"signals"`
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		client: resty.New(),
		url:    url,
	}
}

func (s *HTTPSource) Scan(ctx context.Context, ticker string, window []types.Bar) ([]types.Signal, error) {
	var result scanResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(scanRequest{Ticker: ticker, Bars: window}).
		SetResult(&result).
		Post(s.url)
	if err != nil {
		return nil, fmt.Errorf("scanner request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scanner returned status %d", resp.StatusCode())
	}
	return result.Signals, nil
}
