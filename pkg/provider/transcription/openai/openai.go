// Package openai provides a batch transcription provider backed by the OpenAI
// audio transcription endpoint (whisper-1).
//
// The provider always requests verbose_json with segment timestamps and
// derives confidence from the segment log-probabilities; clients pick their
// preferred output shape later with transcription.Render.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/hushgate/pkg/audio"
	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// ProviderName is the name used in provider errors and metrics.
const ProviderName = "openai"

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the transcription.Provider interface.
var _ transcription.Provider = (*Provider)(nil)

// Provider implements transcription.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	language   string
	prompt     string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLanguage sets the default ISO 639-1 language hint used when a request
// carries none.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt replaces [transcription.DefaultPrompt] for requests without a
// prompt of their own.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used. SDK retries are
// disabled.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcription: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{prompt: transcription.DefaultPrompt}
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

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Model returns the transcription model identifier.
func (p *Provider) Model() string { return p.model }

// Transcribe implements transcription.Provider.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(audio.EncodeWAV(req.Audio)), "audio.wav", "audio/wav"),
		Model:                  p.model,
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if lang := firstNonEmpty(req.Language, p.language); lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if prompt := firstNonEmpty(req.Prompt, p.prompt); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return transcription.Result{}, provider.WrapStatus(ProviderName, "transcribe", apiErr.StatusCode, err)
		}
		return transcription.Result{}, provider.Wrap(ProviderName, "transcribe", err)
	}

	res, err := parseVerbose(resp.RawJSON(), resp.Text)
	if err != nil {
		return transcription.Result{}, provider.Wrap(ProviderName, "transcribe", err)
	}
	if res.Duration == 0 {
		res.Duration = req.Audio.Duration()
	}
	return res, nil
}

// verboseResponse is the verbose_json body. The SDK's typed Transcription
// only exposes the text, so the rest is decoded from the raw payload.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func parseVerbose(raw, fallbackText string) (transcription.Result, error) {
	var v verboseResponse
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return transcription.Result{}, fmt.Errorf("decode verbose_json: %w", err)
		}
	}
	if v.Text == "" {
		v.Text = fallbackText
	}

	segs := make([]transcription.Segment, len(v.Segments))
	for i, s := range v.Segments {
		segs[i] = transcription.Segment{
			ID:         s.ID,
			Start:      transcription.SecondsToDuration(s.Start),
			End:        transcription.SecondsToDuration(s.End),
			Text:       s.Text,
			AvgLogprob: s.AvgLogprob,
		}
	}
	return transcription.Result{
		Transcript: strings.TrimSpace(v.Text),
		Duration:   transcription.SecondsToDuration(v.Duration),
		Confidence: transcription.ConfidenceFromSegments(segs),
		Language:   v.Language,
		Segments:   segs,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
