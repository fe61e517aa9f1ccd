package fal

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
const Name = "fal"

const defaultBaseURL = "https://queue.fal.run"

// DefaultBudget: 1s settle, 3s interval, 200 queries.
var DefaultBudget = task.Budget{
	InitialDelay:         time.Second,
	Interval:             3 * time.Second,
	MaxAttempts:          200,
	MaxTransientFailures: 3,
}

// Table maps queue statuses. The status endpoint can answer 404 for a
// request that has not been registered yet.
var Table = task.Table{
	Tokens: task.Tokens(
		[]string{"COMPLETED"},
		[]string{"ERROR", "FAILED"},
		[]string{"IN_QUEUE", "IN_PROGRESS"},
	),
	HTTPStatus: map[int]task.State{http.StatusNotFound: task.StateProcessing},
}

// Provider implements task.Provider for the fal.ai queue API.
type Provider struct {
	cfg      providers.FalConfig
	client   *http.Client
	resolver credential.Resolver
	budget   task.Budget
	logger   *zap.Logger
}

// New creates the provider.
func New(cfg providers.FalConfig, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
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

type queueResponse struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

func (p *Provider) headers(key string) http.Header {
	h := transport.JSONHeader()
	h.Set("Authorization", "Key "+key)
	return h
}

func (p *Provider) base() string { return strings.TrimRight(p.cfg.BaseURL, "/") }

// requestsBase derives {base}/{owner}/{app}/requests; sub-paths of an
// endpoint id share the app's request namespace.
func (p *Provider) requestsBase(endpoint string) string {
	parts := strings.SplitN(endpoint, "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return p.base() + "/" + strings.Join(parts, "/") + "/requests"
}

// Submit enqueues the payload on the endpoint named by the operation,
// e.g. "fal-ai/flux/dev".
func (p *Provider) Submit(ctx context.Context, req *task.Request) (*task.Handle, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	if req.Operation == "" {
		return nil, types.NewInvalidRequestError("fal endpoint is required").
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	endpoint, err := providers.ChooseOperation(Name, req.Operation, "", "")
	if err != nil {
		return nil, err
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
	var out queueResponse
	if err := resp.JSON(&out); err != nil || out.RequestID == "" {
		return nil, providers.MissingTaskID(Name, resp)
	}
	p.logger.Debug("fal request queued", zap.String("request_id", out.RequestID), zap.String("endpoint", endpoint))

	return &task.Handle{
		ID:          out.RequestID,
		Operation:   endpoint,
		StatusURL:   out.StatusURL,
		ResponseURL: out.ResponseURL,
	}, nil
}

func (p *Provider) statusURL(h *task.Handle) string {
	if h.StatusURL != "" {
		return h.StatusURL
	}
	return p.requestsBase(h.Operation) + "/" + url.PathEscape(h.ID) + "/status"
}

func (p *Provider) responseURL(h *task.Handle) string {
	if h.ResponseURL != "" {
		return h.ResponseURL
	}
	return p.requestsBase(h.Operation) + "/" + url.PathEscape(h.ID)
}

// Poll queries the status URL.
func (p *Provider) Poll(ctx context.Context, h *task.Handle) (*task.Observation, error) {
	key, err := providers.APIKey(Name, h.Credential)
	if err != nil {
		return nil, err
	}
	if h.StatusURL == "" && h.Operation == "" {
		return nil, fmt.Errorf("fal request %s has neither status_url nor endpoint", h.ID)
	}
	resp, err := transport.Do(ctx, p.client, http.MethodGet, p.statusURL(h), p.headers(key), nil)
	if err != nil {
		return nil, err
	}
	var out queueResponse
	if resp.OK() {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("decode fal status: %w", err)
		}
	}
	return providers.Observe(resp, out.Status), nil
}

// Result fetches the response URL; the status document carries no output.
func (p *Provider) Result(ctx context.Context, h *task.Handle, _ *task.Observation) (any, error) {
	key, err := providers.APIKey(Name, h.Credential)
	if err != nil {
		return nil, err
	}
	resp, err := transport.Do(ctx, p.client, http.MethodGet, p.responseURL(h), p.headers(key), nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(p.responseURL(h)); err != nil {
		return nil, err
	}
	return providers.DecodeResult(resp.Body)
}
