package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/providers"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/transport"
	"github.com/BaSui01/mediaflow/types"
)

// Name is the registry key of the caller.
const Name = "gemini"

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash-preview-image-generation"
)

// Uploader stores generated image bytes and returns a public URL.
// *rehost.Rehoster satisfies it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Caller implements task.Caller for Gemini image generation.
type Caller struct {
	cfg      providers.GeminiConfig
	client   *http.Client
	uploader Uploader
	resolver credential.Resolver
	logger   *zap.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithUploader sets where inline images are stored.
func WithUploader(u Uploader) Option {
	return func(c *Caller) { c.uploader = u }
}

// New creates the caller.
func New(cfg providers.GeminiConfig, client *http.Client, logger *zap.Logger, opts ...Option) *Caller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var fallback credential.Credential = credential.Absent{}
	if cfg.APIKey != "" {
		fallback = credential.APIKey{Key: cfg.APIKey}
	}
	c := &Caller{
		cfg:      cfg,
		client:   client,
		resolver: credential.NewResolver(Name, credential.FamilyAPIKey, fallback),
		logger:   logger.With(zap.String("provider", Name)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Caller) Name() string                  { return Name }
func (c *Caller) Resolver() credential.Resolver { return c.resolver }

// Params is the inbound payload. InputImage may be a string or an array.
type Params struct {
	Prompt      string          `json:"prompt,omitempty"`
	InputImage  json.RawMessage `json:"input_image,omitempty"`
	InputImages []string        `json:"input_images,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
}

func (p *Params) images() ([]string, error) {
	var out []string
	if len(p.InputImage) > 0 && string(p.InputImage) != "null" {
		var one string
		if err := json.Unmarshal(p.InputImage, &one); err == nil {
			out = append(out, one)
		} else {
			var many []string
			if err := json.Unmarshal(p.InputImage, &many); err != nil {
				return nil, fmt.Errorf("input_image must be a string or an array of strings")
			}
			out = append(out, many...)
		}
	}
	out = append(out, p.InputImages...)
	return out, nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	ResponseID string `json:"responseId"`
}

// Call sends the prompt and input images to models/{model}:generateContent
// asking for text and image output. Returned images are uploaded and
// listed as URLs.
func (c *Caller) Call(ctx context.Context, req *task.Request) (any, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	var p Params
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, providers.InvalidPayload(Name, err)
		}
	}
	inputs, err := p.images()
	if err != nil {
		return nil, invalid(err.Error())
	}
	if strings.TrimSpace(p.Prompt) == "" && len(inputs) == 0 {
		return nil, invalid("prompt or input_image is required")
	}
	model, err := providers.ChooseOperation(Name, req.Operation, c.cfg.Model, defaultModel)
	if err != nil {
		return nil, err
	}

	var parts []part
	if p.Prompt != "" {
		parts = append(parts, part{Text: p.Prompt})
	}
	for _, in := range inputs {
		data, err := c.loadImage(ctx, in)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{InlineData: &inlineData{MimeType: "image/jpeg", Data: data}})
	}
	genCfg := map[string]any{"responseModalities": []string{"TEXT", "IMAGE"}}
	if p.AspectRatio != "" {
		genCfg["imageConfig"] = map[string]any{"aspectRatio": p.AspectRatio}
	}
	raw, err := json.Marshal(map[string]any{
		"contents":         []any{map[string]any{"role": "user", "parts": parts}},
		"generationConfig": genCfg,
	})
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}

	h := transport.JSONHeader()
	h.Set("x-goog-api-key", key)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), model)
	resp, err := transport.Do(ctx, c.client, http.MethodPost, endpoint, h, raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out generateResponse
	if err := resp.JSON(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "unexpected response from provider").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(Name)
	}

	images := []string{}
	var texts []string
	if len(out.Candidates) > 0 {
		for _, pt := range out.Candidates[0].Content.Parts {
			switch {
			case pt.Text != "":
				texts = append(texts, pt.Text)
			case pt.InlineData != nil:
				u, err := c.store(ctx, pt.InlineData)
				if err != nil {
					return nil, err
				}
				images = append(images, u)
			}
		}
	}
	c.logger.Debug("gemini generation done", zap.String("model", model), zap.Int("images", len(images)))

	return map[string]any{
		"requestId": out.ResponseID,
		"status":    "completed",
		"images":    images,
		"text":      strings.Join(texts, "\n"),
	}, nil
}

func (c *Caller) store(ctx context.Context, d *inlineData) (string, error) {
	if c.uploader == nil {
		return "", types.NewConfigurationError(Name, "object storage is required to return generated images").
			WithHTTPStatus(http.StatusBadRequest)
	}
	data, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "provider returned invalid image data").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(Name)
	}
	mt := d.MimeType
	if mt == "" {
		mt = "image/jpeg"
	}
	u, err := c.uploader.Upload(ctx, data, mt)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "upload generated image").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError).
			WithProvider(Name)
	}
	return u, nil
}

// loadImage returns base64 data for an http(s) URL or passes base64
// input through, stripping a data: prefix.
func (c *Caller) loadImage(ctx context.Context, input string) (string, error) {
	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		resp, err := transport.Do(ctx, c.client, http.MethodGet, input, nil, nil)
		if err == nil {
			err = resp.Err(input)
		}
		if err != nil {
			return "", types.NewInvalidRequestError(fmt.Sprintf("fetch input_image: %v", err)).
				WithCause(err).
				WithHTTPStatus(http.StatusBadRequest).
				WithProvider(Name)
		}
		return base64.StdEncoding.EncodeToString(resp.Body), nil
	}
	if i := strings.Index(input, ";base64,"); strings.HasPrefix(input, "data:") && i >= 0 {
		return input[i+len(";base64,"):], nil
	}
	return input, nil
}

func invalid(msg string) *types.Error {
	return types.NewInvalidRequestError(msg).
		WithHTTPStatus(http.StatusBadRequest).
		WithProvider(Name)
}
