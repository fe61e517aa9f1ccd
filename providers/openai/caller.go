package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
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
const Name = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// ImageModel routes a call to the images API.
	ImageModel = "gpt-image-1"
)

// Caller implements task.Caller for OpenAI.
type Caller struct {
	cfg      providers.OpenAIConfig
	client   *http.Client
	resolver credential.Resolver
	logger   *zap.Logger
}

// New creates the caller.
func New(cfg providers.OpenAIConfig, client *http.Client, logger *zap.Logger) *Caller {
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
	return &Caller{
		cfg:      cfg,
		client:   client,
		resolver: credential.NewResolver(Name, credential.FamilyAPIKey, fallback),
		logger:   logger.With(zap.String("provider", Name)),
	}
}

func (c *Caller) Name() string                  { return Name }
func (c *Caller) Resolver() credential.Resolver { return c.resolver }

// Params is the inbound payload.
type Params struct {
	Model        string   `json:"model,omitempty"`
	Prompt       string   `json:"prompt"`
	InputImage   string   `json:"input_image,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	N            int      `json:"n,omitempty"`
	Size         string   `json:"size,omitempty"`
	Quality      string   `json:"quality,omitempty"`
}

// Call picks the model from the operation, the payload, the configuration
// and finally gpt-image-1. The image model creates an image, or edits
// input_image when one is given; any other model runs a chat completion.
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
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, types.NewInvalidRequestError("prompt is required").
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	requested := req.Operation
	if requested == "" {
		requested = p.Model
	}
	model, err := providers.ChooseOperation(Name, requested, c.cfg.Model, ImageModel)
	if err != nil {
		return nil, err
	}

	switch {
	case model == ImageModel && p.InputImage != "":
		return c.editImage(ctx, key, &p)
	case model == ImageModel:
		return c.createImage(ctx, key, &p)
	default:
		return c.chat(ctx, key, model, &p)
	}
}

func (c *Caller) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Caller) auth(h http.Header, key string) http.Header {
	h.Set("Authorization", "Bearer "+key)
	return h
}

func imageDefaults(p *Params) (n int, size, quality string) {
	n = p.N
	if n <= 0 {
		n = 1
	}
	size = p.Size
	if size == "" {
		size = "1024x1024"
	}
	quality = p.Quality
	if quality == "" {
		quality = "standard"
	}
	return n, size, quality
}

func (c *Caller) createImage(ctx context.Context, key string, p *Params) (any, error) {
	n, size, quality := imageDefaults(p)
	raw, err := json.Marshal(map[string]any{
		"model":   ImageModel,
		"prompt":  p.Prompt,
		"n":       n,
		"size":    size,
		"quality": quality,
	})
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}
	resp, err := transport.Do(ctx, c.client, http.MethodPost, c.endpoint("/images/generations"),
		c.auth(transport.JSONHeader(), key), raw)
	return c.imageResult(resp, err, p)
}

func (c *Caller) editImage(ctx context.Context, key string, p *Params) (any, error) {
	img, err := c.loadImage(ctx, p.InputImage)
	if err != nil {
		return nil, err
	}
	n, size, quality := imageDefaults(p)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="image"; filename="input.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img); err != nil {
		return nil, err
	}
	for _, f := range [][2]string{
		{"model", ImageModel},
		{"prompt", p.Prompt},
		{"n", strconv.Itoa(n)},
		{"size", size},
		{"quality", quality},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	h := c.auth(make(http.Header), key)
	h.Set("Content-Type", mw.FormDataContentType())
	resp, err := transport.Do(ctx, c.client, http.MethodPost, c.endpoint("/images/edits"), h, buf.Bytes())
	return c.imageResult(resp, err, p)
}

type imagesResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (c *Caller) imageResult(resp *transport.Response, err error, p *Params) (any, error) {
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out imagesResponse
	if err := resp.JSON(&out); err != nil {
		return nil, upstreamDecodeError(err)
	}
	images := make([]any, 0, len(out.Data))
	for _, d := range out.Data {
		u := d.URL
		if u == "" && d.B64JSON != "" {
			u = "data:image/png;base64," + d.B64JSON
		}
		images = append(images, map[string]any{"url": u, "revised_prompt": d.RevisedPrompt})
	}
	c.logger.Debug("image request done", zap.Int("images", len(images)))

	promptTokens := len(p.Prompt)
	return map[string]any{
		"requestId": resp.Header.Get("X-Request-Id"),
		"status":    "completed",
		"images":    images,
		"model":     ImageModel,
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": 0,
			"total_tokens":      promptTokens,
		},
	}, nil
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

func (c *Caller) chat(ctx context.Context, key, model string, p *Params) (any, error) {
	var messages []map[string]any
	if p.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": p.SystemPrompt})
	}
	if p.InputImage != "" {
		img, err := c.loadImage(ctx, p.InputImage)
		if err != nil {
			return nil, err
		}
		detail := p.Detail
		if detail == "" {
			detail = "auto"
		}
		messages = append(messages, map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "text", "text": p.Prompt},
				map[string]any{"type": "image_url", "image_url": map[string]any{
					"url":    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
					"detail": detail,
				}},
			},
		})
	} else {
		messages = append(messages, map[string]any{"role": "user", "content": p.Prompt})
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	temperature := 0.7
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	raw, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	})
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}

	resp, err := transport.Do(ctx, c.client, http.MethodPost, c.endpoint("/chat/completions"),
		c.auth(transport.JSONHeader(), key), raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out chatResponse
	if err := resp.JSON(&out); err != nil {
		return nil, upstreamDecodeError(err)
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	c.logger.Debug("chat completion done", zap.String("model", out.Model))

	return map[string]any{
		"requestId": out.ID,
		"status":    "completed",
		"content":   content,
		"model":     out.Model,
		"usage":     task.Diagnostic(out.Usage),
	}, nil
}

// loadImage downloads an http(s) URL or decodes a base64 string, with or
// without a data: prefix.
func (c *Caller) loadImage(ctx context.Context, input string) ([]byte, error) {
	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		resp, err := transport.Do(ctx, c.client, http.MethodGet, input, nil, nil)
		if err != nil {
			return nil, inputImageError(err)
		}
		if err := resp.Err(input); err != nil {
			return nil, inputImageError(err)
		}
		return resp.Body, nil
	}
	data := input
	if i := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+len(";base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, types.NewInvalidRequestError("input_image must be an http(s) URL or base64 data").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	return img, nil
}

func inputImageError(err error) *types.Error {
	return types.NewInvalidRequestError(fmt.Sprintf("fetch input_image: %v", err)).
		WithCause(err).
		WithHTTPStatus(http.StatusBadRequest).
		WithProvider(Name)
}

func upstreamDecodeError(err error) *types.Error {
	return types.NewError(types.ErrUpstreamError, "unexpected response from provider").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(Name)
}
