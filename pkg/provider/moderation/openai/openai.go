// Package openai provides a moderation score provider backed by the OpenAI
// moderation endpoint.
//
// Category keys returned by the API ("sexual/minors", "self-harm/intent", ...)
// are normalised to the canonical snake_case form. The provider's own
// "flagged" field is ignored; threshold decisions belong to the caller.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// ProviderName is the name used in provider errors and metrics.
const ProviderName = "openai"

// DefaultModel is the default OpenAI moderation model.
const DefaultModel = oai.ModerationModelOmniModerationLatest

// Ensure Provider implements the moderation.Provider interface.
var _ moderation.Provider = (*Provider)(nil)

// Provider implements moderation.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI moderation Provider.
// If model is empty, DefaultModel (omni-moderation-latest) is used.
//
// The SDK's built-in retries are disabled: a failed classification is reported
// to the caller as-is.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai moderation: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the moderation model identifier.
func (p *Provider) Model() string { return p.model }

// Classify implements moderation.Provider.
func (p *Provider) Classify(ctx context.Context, text string) (moderation.Scores, error) {
	resp, err := p.client.Moderations.New(ctx, oai.ModerationNewParams{
		Model: p.model,
		Input: oai.ModerationNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Results) == 0 {
		return nil, provider.Wrap(ProviderName, "classify", errors.New("response contained no results"))
	}

	scores, err := scoresFrom(resp.Results[0])
	if err != nil {
		return nil, provider.Wrap(ProviderName, "classify", err)
	}
	return scores, nil
}

// scoresFrom extracts normalised category scores from a moderation result.
// Typed fields are read first; any additional keys present in the raw JSON are
// merged in so that categories added to the API later are not lost.
func scoresFrom(m oai.Moderation) (moderation.Scores, error) {
	cs := m.CategoryScores
	scores := moderation.Scores{
		moderation.CategoryHarassment:            cs.Harassment,
		moderation.CategoryHarassmentThreatening: cs.HarassmentThreatening,
		moderation.CategoryHate:                  cs.Hate,
		moderation.CategoryHateThreatening:       cs.HateThreatening,
		moderation.CategoryIllicit:               cs.Illicit,
		moderation.CategoryIllicitViolent:        cs.IllicitViolent,
		moderation.CategorySelfHarm:              cs.SelfHarm,
		moderation.CategorySelfHarmInstructions:  cs.SelfHarmInstructions,
		moderation.CategorySelfHarmIntent:        cs.SelfHarmIntent,
		moderation.CategorySexual:                cs.Sexual,
		moderation.CategorySexualMinors:          cs.SexualMinors,
		moderation.CategoryViolence:              cs.Violence,
		moderation.CategoryViolenceGraphic:       cs.ViolenceGraphic,
	}

	if raw := cs.RawJSON(); raw != "" {
		var extra map[string]float64
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("decode category_scores: %w", err)
		}
		for k, v := range extra {
			scores[moderation.NormalizeCategory(k)] = v
		}
	}

	for cat, v := range scores {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("score for %q out of range: %v", cat, v)
		}
	}
	return scores, nil
}

// wrapErr converts an SDK error into a *provider.Error, keeping the HTTP
// status when the API answered.
func wrapErr(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return provider.WrapStatus(ProviderName, "classify", apiErr.StatusCode, err)
	}
	return provider.Wrap(ProviderName, "classify", err)
}
