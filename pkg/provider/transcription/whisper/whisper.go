// Package whisper provides a transcription provider backed by a local
// whisper.cpp server.
//
// It talks to a running whisper-server binary, which exposes POST /inference
// accepting a multipart WAV upload. Typical deployments run it next to the
// gateway as a failover for the hosted transcription backend.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := p.Transcribe(ctx, transcription.Request{Audio: pcm})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/hushgate/pkg/audio"
	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// ProviderName is the name used in provider errors and metrics.
const ProviderName = "whisper"

// defaultSilenceRMS is the RMS level (16-bit PCM units) below which an entire
// voice note is treated as silence and not sent to the server.
const defaultSilenceRMS = 50.0

// Compile-time assertion that Provider implements transcription.Provider.
var _ transcription.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses the model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language code sent to the server when a
// request carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt replaces [transcription.DefaultPrompt].
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithTimeout sets the HTTP client timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient = &http.Client{Timeout: d} }
}

// WithSilenceRMS overrides the silence threshold. Zero disables the check.
func WithSilenceRMS(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// Provider implements transcription.Provider backed by a whisper.cpp HTTP
// server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL (e.g.
// "http://localhost:8081"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		prompt:     transcription.DefaultPrompt,
		silenceRMS: defaultSilenceRMS,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements transcription.Provider. Audio whose overall energy is
// below the silence threshold yields an empty transcript without a request.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error) {
	if p.silenceRMS > 0 && computeRMS(req.Audio.Data) < p.silenceRMS {
		return transcription.Result{
			Duration:   req.Audio.Duration(),
			Confidence: transcription.DefaultConfidence,
		}, nil
	}

	body, contentType, err := p.buildForm(req)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("whisper: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return transcription.Result{}, provider.Wrap(ProviderName, "transcribe", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return transcription.Result{}, provider.Wrap(ProviderName, "transcribe", fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return transcription.Result{}, provider.WrapStatus(ProviderName, "transcribe", resp.StatusCode,
			fmt.Errorf("server returned HTTP %d", resp.StatusCode))
	}

	res, err := parseResponse(data)
	if err != nil {
		return transcription.Result{}, provider.Wrap(ProviderName, "transcribe", err)
	}
	if res.Duration == 0 {
		res.Duration = req.Audio.Duration()
	}
	return res, nil
}

// buildForm encodes the request as the multipart body expected by
// /inference.
func (p *Provider) buildForm(req transcription.Request) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Audio)); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        firstNonEmpty(req.Language, p.language),
		"prompt":          firstNonEmpty(req.Prompt, p.prompt),
		"model":           p.model,
	}
	if req.Temperature > 0 {
		fields["temperature"] = strconv.FormatFloat(req.Temperature, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// inferenceResponse covers both the plain json and verbose_json bodies
// whisper-server produces.
type inferenceResponse struct {
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

func parseResponse(data []byte) (transcription.Result, error) {
	var r inferenceResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return transcription.Result{}, fmt.Errorf("parse JSON response: %w", err)
	}
	segs := make([]transcription.Segment, len(r.Segments))
	for i, s := range r.Segments {
		segs[i] = transcription.Segment{
			ID:         s.ID,
			Start:      transcription.SecondsToDuration(s.Start),
			End:        transcription.SecondsToDuration(s.End),
			Text:       s.Text,
			AvgLogprob: s.AvgLogprob,
		}
	}
	return transcription.Result{
		Transcript: strings.TrimSpace(r.Text),
		Duration:   transcription.SecondsToDuration(r.Duration),
		Confidence: transcription.ConfidenceFromSegments(segs),
		Language:   r.Language,
		Segments:   segs,
	}, nil
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian PCM,
// in sample units (0–32767). Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
