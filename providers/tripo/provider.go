package tripo

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
const Name = "tripo"

const (
	defaultBaseURL = "https://api.tripo3d.ai/v2/openapi"
	defaultType    = "text_to_model"
)

// DefaultBudget: 3s settle, 3s interval, 60 queries.
var DefaultBudget = task.Budget{
	InitialDelay:         3 * time.Second,
	Interval:             3 * time.Second,
	MaxAttempts:          60,
	MaxTransientFailures: 3,
}

// Table maps Tripo task statuses.
var Table = task.Table{
	Tokens: task.Tokens(
		[]string{"success"},
		[]string{"failed", "banned", "expired", "cancelled"},
		[]string{"queued", "running"},
	),
}

// Provider implements task.Provider for Tripo3D.
// API Docs: https://platform.tripo3d.ai/docs
type Provider struct {
	cfg      providers.TripoConfig
	client   *http.Client
	resolver credential.Resolver
	budget   task.Budget
	logger   *zap.Logger
}

// New creates the provider.
func New(cfg providers.TripoConfig, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
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

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    struct {
		TaskID   string          `json:"task_id"`
		Status   string          `json:"status"`
		Progress int             `json:"progress"`
		Output   json.RawMessage `json:"output,omitempty"`
	} `json:"data"`
}

func (p *Provider) headers(key string) http.Header {
	h := transport.JSONHeader()
	h.Set("Authorization", "Bearer "+key)
	return h
}

func (p *Provider) base() string { return strings.TrimRight(p.cfg.BaseURL, "/") }

// Submit posts to /task. The operation becomes the "type" field unless the
// payload already sets one.
func (p *Provider) Submit(ctx context.Context, req *task.Request) (*task.Handle, error) {
	key, err := providers.APIKey(Name, req.Credential)
	if err != nil {
		return nil, err
	}
	body, err := providers.DecodeObject(Name, req.Payload)
	if err != nil {
		return nil, err
	}
	typ, _ := body["type"].(string)
	if typ == "" {
		typ, err = providers.ChooseOperation(Name, req.Operation, "", defaultType)
		if err != nil {
			return nil, err
		}
		body["type"] = typ
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}

	resp, err := transport.Do(ctx, p.client, http.MethodPost, p.base()+"/task", p.headers(key), raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out envelope
	if err := resp.JSON(&out); err != nil || out.Data.TaskID == "" {
		return nil, providers.MissingTaskID(Name, resp)
	}
	p.logger.Debug("tripo task created", zap.String("task_id", out.Data.TaskID), zap.String("type", typ))

	return &task.Handle{
		ID:        out.Data.TaskID,
		Operation: typ,
		StatusURL: p.base() + "/task/" + url.PathEscape(out.Data.TaskID),
	}, nil
}

// Poll issues GET /task/{id}.
func (p *Provider) Poll(ctx context.Context, h *task.Handle) (*task.Observation, error) {
	key, err := providers.APIKey(Name, h.Credential)
	if err != nil {
		return nil, err
	}
	target := h.StatusURL
	if target == "" {
		target = p.base() + "/task/" + url.PathEscape(h.ID)
	}
	resp, err := transport.Do(ctx, p.client, http.MethodGet, target, p.headers(key), nil)
	if err != nil {
		return nil, err
	}
	var out envelope
	if resp.OK() {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("decode tripo task: %w", err)
		}
	}
	return providers.Observe(resp, out.Data.Status), nil
}

// Result flattens the task document to {taskId, status, progress, output}.
func (p *Provider) Result(_ context.Context, h *task.Handle, obs *task.Observation) (any, error) {
	var out envelope
	if err := json.Unmarshal(obs.Body, &out); err != nil {
		return nil, fmt.Errorf("decode tripo result: %w", err)
	}
	var output any
	if len(out.Data.Output) > 0 {
		if err := json.Unmarshal(out.Data.Output, &output); err != nil {
			return nil, fmt.Errorf("decode tripo output: %w", err)
		}
	}
	return map[string]any{
		"taskId":   h.ID,
		"status":   out.Data.Status,
		"progress": out.Data.Progress,
		"output":   output,
	}, nil
}
