package bfl

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
)

// Name is the registry key of the provider.
const Name = "bfl"

const (
	defaultBaseURL = "https://api.bfl.ai"
	defaultModel   = "flux-kontext-max"
)

// DefaultBudget matches the documented cadence: 3s settle, 3s interval,
// 60 queries.
var DefaultBudget = task.Budget{
	InitialDelay:         3 * time.Second,
	Interval:             3 * time.Second,
	MaxAttempts:          60,
	MaxTransientFailures: 3,
}

// Table maps BFL status strings. get_result answers 404 while a fresh task
// is not yet visible, so 404 keeps polling.
var Table = task.Table{
	Tokens: task.Tokens(
		[]string{"Ready"},
		[]string{"Error", "Failed", "Content Moderated", "Request Moderated"},
		[]string{"Pending", "Processing", "Queued", "Task not found"},
	),
	HTTPStatus: map[int]task.State{http.StatusNotFound: task.StateProcessing},
}

// Provider implements task.Provider for Black Forest Labs Flux.
// API Docs: https://docs.bfl.ai/quick_start/generating_images
type Provider struct {
	cfg      providers.BFLConfig
	client   *http.Client
	resolver credential.Resolver
	budget   task.Budget
	logger   *zap.Logger
}

// New creates the provider. client may be shared across providers.
func New(cfg providers.BFLConfig, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		// Regional: api.eu.bfl.ai (EU), api.us.bfl.ai (US)
		cfg.BaseURL = defaultBaseURL
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

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url,omitempty"`
}

type resultResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Sample string `json:"sample"`
	} `json:"result,omitempty"`
}

func (p *Provider) headers(key string) http.Header {
	h := transport.JSONHeader()
	h.Set("x-key", key)
	return h
}

// Submit posts the payload to /v1/{model}. The payload is forwarded as is.
func (p *Provider) Submit(ctx context.Context, req *task.Request) (*task.Handle, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	model, err := providers.ChooseOperation(Name, req.Operation, p.cfg.Model, defaultModel)
	if err != nil {
		return nil, err
	}
	body := []byte(req.Payload)
	if len(body) == 0 {
		body = []byte("{}")
	}

	endpoint := fmt.Sprintf("%s/v1/%s", strings.TrimRight(p.cfg.BaseURL, "/"), model)
	resp, err := transport.Do(ctx, p.client, http.MethodPost, endpoint, p.headers(key), body)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}

	var out submitResponse
	if err := resp.JSON(&out); err != nil || out.ID == "" {
		return nil, providers.MissingTaskID(Name, resp)
	}
	p.logger.Debug("flux task created", zap.String("task_id", out.ID), zap.String("model", model))

	return &task.Handle{
		ID:        out.ID,
		Operation: model,
		StatusURL: out.PollingURL,
	}, nil
}

// Poll queries polling_url when the submission returned one, otherwise the
// legacy get_result endpoint.
func (p *Provider) Poll(ctx context.Context, h *task.Handle) (*task.Observation, error) {
	key, err := providers.APIKey(Name, h.Credential)
	if err != nil {
		return nil, err
	}
	target := h.StatusURL
	if target == "" {
		target = fmt.Sprintf("%s/v1/get_result?id=%s", strings.TrimRight(p.cfg.BaseURL, "/"), url.QueryEscape(h.ID))
	}

	resp, err := transport.Do(ctx, p.client, http.MethodGet, target, p.headers(key), nil)
	if err != nil {
		return nil, err
	}
	var out resultResponse
	if resp.OK() {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("decode flux status: %w", err)
		}
	}
	return providers.Observe(resp, out.Status), nil
}

// Result normalizes a Ready answer to {"images": [sample]}.
func (p *Provider) Result(_ context.Context, h *task.Handle, obs *task.Observation) (any, error) {
	var out resultResponse
	if err := json.Unmarshal(obs.Body, &out); err != nil {
		return nil, fmt.Errorf("decode flux result: %w", err)
	}
	if out.Result == nil || out.Result.Sample == "" {
		return nil, fmt.Errorf("flux task %s is Ready without result.sample", h.ID)
	}
	return map[string]any{"images": []any{out.Result.Sample}}, nil
}
