package ark

import (
	"context"
	"encoding/json"
	"net/http"
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
const Name = "ark"

const (
	defaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	defaultModel   = "doubao-seedream-4-0-250828"
)

// Caller implements task.Caller for Ark image generation, which answers
// synchronously.
type Caller struct {
	cfg      providers.ArkConfig
	client   *http.Client
	resolver credential.Resolver
	logger   *zap.Logger
}

// New creates the caller.
func New(cfg providers.ArkConfig, client *http.Client, logger *zap.Logger) *Caller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
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

// Call posts to /images/generations. The payload is passed through with
// the generation defaults filled in; prompt is mandatory.
func (c *Caller) Call(ctx context.Context, req *task.Request) (any, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	body, err := providers.DecodeObject(Name, req.Payload)
	if err != nil {
		return nil, err
	}
	if p, _ := body["prompt"].(string); strings.TrimSpace(p) == "" {
		return nil, types.NewInvalidRequestError("prompt is required").
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	model, err := providers.ChooseOperation(Name, req.Operation, c.cfg.Model, defaultModel)
	if err != nil {
		return nil, err
	}
	body["model"] = model
	setDefault(body, "size", "2K")
	setDefault(body, "sequential_image_generation", "disabled")
	setDefault(body, "response_format", "url")
	setDefault(body, "stream", false)
	setDefault(body, "watermark", true)
	if seed, ok := body["seed"].(float64); ok && seed == -1 {
		delete(body, "seed")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}
	h := transport.JSONHeader()
	h.Set("Authorization", "Bearer "+key)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/images/generations"
	resp, err := transport.Do(ctx, c.client, http.MethodPost, endpoint, h, raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	c.logger.Debug("ark generation done",
		zap.String("model", model),
		zap.String("upstream_request_id", resp.Header.Get("X-Request-Id")))
	return providers.DecodeResult(resp.Body)
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}
