package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOracle 通过 HTTP JSON 接口调用相似度服务
type HTTPOracle struct {
	url    string
	apiKey string
	client *http.Client
}

type similarityRequest struct {
	Language string `json:"language"`
	Target   string `json:"target"`
	Guess    string `json:"guess"`
}

type similarityResponse struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

// NewHTTPOracle 创建 HTTP 相似度客户端，超时由调用方的 context 控制
func NewHTTPOracle(url, apiKey string, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPOracle{url: url, apiKey: apiKey, client: client}
}

// ScoreSimilarity 实现 SimilarityOracle
func (o *HTTPOracle) ScoreSimilarity(ctx context.Context, language, target, guess string) (float64, error) {
	body, err := json.Marshal(similarityRequest{Language: language, Target: target, Guess: guess})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("similarity service status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out similarityResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode similarity response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("similarity service: %s", out.Error)
	}
	return out.Score, nil
}
