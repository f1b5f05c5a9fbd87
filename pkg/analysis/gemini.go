// Package analysis asks a generative model for a cash-and-carry strategy
// recommendation on a CoinState snapshot.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

const (
	DefaultAPIURL = "https://generativelanguage.googleapis.com"
	DefaultModel  = "gemini-2.0-flash"
)

// Analyzer never fails: collaborator errors come back as a degraded
// Analysis with RiskHigh.
type Analyzer interface {
	Analyze(ctx context.Context, state models.CoinState, lang models.Language) models.Analysis
}

type Config struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
	RPS     float64
}

type GeminiClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

func NewGeminiClient(cfg Config, logger *logrus.Logger) *GeminiClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.WithField("component", "analysis"),
	}
}

// APIError is a non-2xx answer from the model endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error %d %s: %s", e.StatusCode, e.Status, e.Message)
}

func (c *GeminiClient) Analyze(ctx context.Context, state models.CoinState, lang models.Language) models.Analysis {
	result, err := c.generate(ctx, state, lang)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", state.Symbol).Error("Analysis failed")
		return degraded(state.Symbol, lang, err)
	}
	return result
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type analysisPayload struct {
	Recommendation string `json:"recommendation"`
	Strategy       string `json:"strategy"`
	RiskLevel      string `json:"riskLevel"`
	EstimatedYield string `json:"estimatedYield"`
}

var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"recommendation": map[string]string{"type": "STRING"},
		"strategy":       map[string]string{"type": "STRING"},
		"riskLevel":      map[string]string{"type": "STRING"},
		"estimatedYield": map[string]string{"type": "STRING"},
	},
}

func (c *GeminiClient) generate(ctx context.Context, state models.CoinState, lang models.Language) (models.Analysis, error) {
	if c.cfg.APIKey == "" {
		return models.Analysis{}, errors.New("analysis api key not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Analysis{}, err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: BuildPrompt(state, lang)}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
		},
	})
	if err != nil {
		return models.Analysis{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.cfg.APIURL, "/"), url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Analysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("failed to call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Analysis{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			apiErr.Message = er.Error.Message
			apiErr.Status = er.Error.Status
		}
		return models.Analysis{}, apiErr
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return models.Analysis{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return models.Analysis{}, errors.New("model returned no candidates")
	}

	var payload analysisPayload
	text := gr.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return models.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}

	return models.Analysis{
		Symbol:         state.Symbol,
		Recommendation: payload.Recommendation,
		Strategy:       payload.Strategy,
		RiskLevel:      models.ParseRiskLevel(payload.RiskLevel),
		EstimatedYield: payload.EstimatedYield,
	}, nil
}

// IsRegionError reports whether err means the model is not served in the
// caller's location.
func IsRegionError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusPreconditionFailed || apiErr.Status == "FAILED_PRECONDITION" {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "User location is not supported") ||
		strings.Contains(msg, "412") ||
		strings.Contains(msg, "FAILED_PRECONDITION")
}

func degraded(symbol string, lang models.Language, err error) models.Analysis {
	zh := lang == models.LangChinese
	if IsRegionError(err) {
		rec := "Gemini API is not available in your region. Please use a VPN (e.g., US) and try again."
		if zh {
			rec = "当前 IP 地区不支持 Gemini API，请开启 VPN (如美国节点) 后重试。"
		}
		return models.Analysis{
			Symbol:         symbol,
			Recommendation: rec,
			Strategy:       "Region restricted.",
			RiskLevel:      models.RiskHigh,
			EstimatedYield: "Error",
		}
	}

	rec, strategy := "Analysis failed", "Could not generate strategy due to API error."
	if zh {
		rec, strategy = "分析失败", "无法连接到 AI 服务。"
	}
	return models.Analysis{
		Symbol:         symbol,
		Recommendation: rec,
		Strategy:       strategy,
		RiskLevel:      models.RiskHigh,
		EstimatedYield: "N/A",
	}
}
