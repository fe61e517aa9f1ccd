package volcvisual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/providers"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/transport"
	"github.com/BaSui01/mediaflow/volc"
)

// Name is the registry key of the provider.
const Name = "volc_visual"

const (
	ActionSubmit    = "CVSync2AsyncSubmitTask"
	ActionGetResult = "CVSync2AsyncGetResult"

	defaultHost    = "visual.volcengineapi.com"
	defaultVersion = "2022-08-31"
	defaultRegion  = "cn-north-1"
	defaultService = "cv"
	defaultReqKey  = "jimeng_t2i_v40"

	// codeOK is the API-level success code; anything else is an error even
	// when the HTTP status is 200.
	codeOK = 10000
)

// DefaultBudget: 2s settle, 3s interval, 100 queries.
var DefaultBudget = task.Budget{
	InitialDelay:         2 * time.Second,
	Interval:             3 * time.Second,
	MaxAttempts:          100,
	MaxTransientFailures: 3,
}

// Table maps CVSync2AsyncGetResult statuses. "error" is synthesized by Poll
// for answers whose API code is not 10000.
var Table = task.Table{
	Tokens: task.Tokens(
		[]string{"done"},
		[]string{"expired", "error"},
		[]string{"in_queue", "generating", "not_found"},
	),
}

// Provider implements task.Provider for the Volcengine visual API with
// AK/SK request signing.
type Provider struct {
	cfg      providers.VolcVisualConfig
	client   *http.Client
	resolver credential.Resolver
	budget   task.Budget
	logger   *zap.Logger
	now      func() time.Time
}

// New creates the provider.
func New(cfg providers.VolcVisualConfig, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Service == "" {
		cfg.Service = defaultService
	}
	if cfg.ReqKey == "" {
		cfg.ReqKey = defaultReqKey
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var fallback credential.Credential = credential.Absent{}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		fallback = credential.AKSK{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey}
	}
	return &Provider{
		cfg:      cfg,
		client:   client,
		resolver: credential.NewResolver(Name, credential.FamilyAKSK, fallback),
		budget:   cfg.Poll.Budget(DefaultBudget),
		logger:   logger.With(zap.String("provider", Name)),
		now:      time.Now,
	}
}

func (p *Provider) Name() string                  { return Name }
func (p *Provider) Resolver() credential.Resolver { return p.resolver }
func (p *Provider) Classifier() task.Classifier   { return Table }
func (p *Provider) Budget() task.Budget           { return p.budget }

type apiResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      *struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	} `json:"data"`
}

// signedPost sends body to ?Action=&Version= with a fresh signature.
func (p *Provider) signedPost(ctx context.Context, cred credential.Credential, action string, body []byte) (*transport.Response, error) {
	pair, ok := cred.(credential.AKSK)
	if !ok || !credential.IsUsable(pair) {
		return nil, fmt.Errorf("volcengine signing requires an access key pair")
	}
	query := map[string]any{"Action": action, "Version": p.cfg.Version}
	sig := volc.Sign(volc.Request{
		Method:          http.MethodPost,
		Host:            p.cfg.Host,
		Path:            "/",
		Query:           query,
		Body:            string(body),
		AccessKeyID:     pair.AccessKeyID,
		SecretAccessKey: pair.SecretAccessKey,
		Region:          p.cfg.Region,
		Service:         p.cfg.Service,
		XDate:           volc.FormatTime(p.now()),
	})

	target := fmt.Sprintf("%s://%s/?%s", p.cfg.Scheme, p.cfg.Host, volc.CanonicalQuery(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	sig.Apply(req)
	return transport.Send(p.client, req)
}

// Submit calls CVSync2AsyncSubmitTask. The operation selects req_key.
func (p *Provider) Submit(ctx context.Context, req *task.Request) (*task.Handle, error) {
	body, err := providers.DecodeObject(Name, req.Payload)
	if err != nil {
		return nil, err
	}
	reqKey, err := providers.ChooseOperation(Name, req.Operation, p.cfg.ReqKey, defaultReqKey)
	if err != nil {
		return nil, err
	}
	body["req_key"] = reqKey
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}

	resp, err := p.signedPost(ctx, req.Credential, ActionSubmit, raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	var out apiResponse
	if err := resp.JSON(&out); err != nil {
		return nil, providers.MissingTaskID(Name, resp)
	}
	if out.Code != codeOK {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	if out.Data == nil || out.Data.TaskID == "" {
		return nil, providers.MissingTaskID(Name, resp)
	}
	p.logger.Debug("volcengine visual task created",
		zap.String("task_id", out.Data.TaskID),
		zap.String("req_key", reqKey),
		zap.String("request_id", out.RequestID))

	return &task.Handle{ID: out.Data.TaskID, Operation: reqKey}, nil
}

// Poll calls CVSync2AsyncGetResult asking for URLs instead of base64 data.
func (p *Provider) Poll(ctx context.Context, h *task.Handle) (*task.Observation, error) {
	reqKey := h.Operation
	if reqKey == "" {
		reqKey = p.cfg.ReqKey
	}
	raw, err := json.Marshal(map[string]any{
		"req_key":  reqKey,
		"task_id":  h.ID,
		"req_json": `{"return_url":true}`,
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.signedPost(ctx, h.Credential, ActionGetResult, raw)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return providers.Observe(resp, ""), nil
	}
	var out apiResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode volcengine result: %w", err)
	}
	token := ""
	switch {
	case out.Code != codeOK:
		token = "error"
	case out.Data != nil:
		token = out.Data.Status
	}
	return providers.Observe(resp, token), nil
}

// Result returns the decoded GetResult document (data.image_urls etc.).
func (p *Provider) Result(_ context.Context, _ *task.Handle, obs *task.Observation) (any, error) {
	return providers.DecodeResult(obs.Body)
}
