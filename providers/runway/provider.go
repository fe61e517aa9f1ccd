package runway

import (
	"context"
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

// Name is the registry key of the provider.
const Name = "runway"

const (
	defaultBaseURL    = "https://api.dev.runwayml.com/v1"
	defaultAPIVersion = "2024-11-06"
	defaultEndpoint   = "image_to_video"
)

// Endpoints are the task-creating operations accepted by Submit.
var Endpoints = map[string]bool{
	"image_to_video":        true,
	"video_to_video":        true,
	"text_to_image":         true,
	"video_upscale":         true,
	"character_performance": true,
}

// DefaultBudget: generation takes a while, so the first query waits 10s and
// the loop runs up to 120 queries 5s apart.
var DefaultBudget = task.Budget{
	InitialDelay:         10 * time.Second,
	Interval:             5 * time.Second,
	MaxAttempts:          120,
	MaxTransientFailures: 3,
}

// Table maps Runway task statuses. A 404 means the task was deleted.
var Table = task.Table{
	Tokens: task.Tokens(
		[]string{"SUCCEEDED"},
		[]string{"FAILED", "CANCELLED"},
		[]string{"PENDING", "THROTTLED", "RUNNING"},
	),
	HTTPStatus: map[int]task.State{http.StatusNotFound: task.StateFailed},
}

// Provider implements task.Provider for Runway.
// API Docs: https://docs.dev.runwayml.com/api/
type Provider struct {
	cfg      providers.RunwayConfig
	client   *http.Client
	resolver credential.Resolver
	budget   task.Budget
	logger   *zap.Logger
}

// New creates the provider.
func New(cfg providers.RunwayConfig, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var fallback credential.Credential = credential.Absent{}
	if cfg.APIKey != "" {
		fallback = credential.APIKey{Key: cfg.APIKey}
	}
	return &Provider{
		cfg:      cfg,
		client:   client,
		resolver: credential.NewResolver(Name, credential.FamilyAPIKey, fallback),
		budget:   cfg.Poll.Budget(DefaultBudget),
		logger:   logger.With(zap.String("provider", Name)),
	}
}

func (p *Provider) Name() string                  { return Name }
func (p *Provider) Resolver() credential.Resolver { return p.resolver }
func (p *Provider) Classifier() task.Classifier   { return Table }
func (p *Provider) Budget() task.Budget           { return p.budget }

type taskResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  []string        `json:"output,omitempty"`
	Failure json.RawMessage `json:"failure,omitempty"`
}

// 认证: Bearer 令牌 + X-Runway-Version 头
func (p *Provider) headers(key string) http.Header {
	h := transport.JSONHeader()
	h.Set("Authorization", "Bearer "+key)
	h.Set("X-Runway-Version", p.cfg.APIVersion)
	return h
}

func (p *Provider) base() string { return strings.TrimRight(p.cfg.BaseURL, "/") }

// Submit posts the payload to the selected endpoint.
func (p *Provider) Submit(ctx context.Context, req *task.Request) (*task.Handle, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	endpoint := req.Operation
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if !Endpoints[endpoint] {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("unknown runway endpoint %q", endpoint)).
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	body := []byte(req.Payload)
	if len(body) == 0 {
		body = []byte("{}")
	}

	resp, err := transport.Do(ctx, p.client, http.MethodPost, p.base()+"/"+endpoint, p.headers(key), body)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out taskResponse
	if err := resp.JSON(&out); err != nil || out.ID == "" {
		return nil, providers.MissingTaskID(Name, resp)
	}
	p.logger.Debug("runway task created", zap.String("task_id", out.ID), zap.String("endpoint", endpoint))

	return &task.Handle{
		ID:        out.ID,
		Operation: endpoint,
		StatusURL: p.base() + "/tasks/" + url.PathEscape(out.ID),
	}, nil
}

// Poll issues GET /tasks/{id}.
func (p *Provider) Poll(ctx context.Context, h *task.Handle) (*task.Observation, error) {
	key, err := providers.APIKey(Name, h.Credential)
	if err != nil {
		return nil, err
	}
	target := h.StatusURL
	if target == "" {
		target = p.base() + "/tasks/" + url.PathEscape(h.ID)
	}
	resp, err := transport.Do(ctx, p.client, http.MethodGet, target, p.headers(key), nil)
	if err != nil {
		return nil, err
	}
	var out taskResponse
	if resp.OK() {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("decode runway task: %w", err)
		}
	}
	return providers.Observe(resp, out.Status), nil
}

// Result returns the completed task document; its output URLs are what the
// rehosting step rewrites.
func (p *Provider) Result(_ context.Context, _ *task.Handle, obs *task.Observation) (any, error) {
	return providers.DecodeResult(obs.Body)
}
