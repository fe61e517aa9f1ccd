package googlesearch

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
const Name = "google_search"

const (
	defaultBaseURL = "https://google.serper.dev"
	defaultType    = "search"
)

// Caller implements task.Caller for the Serper search API.
type Caller struct {
	cfg      providers.GoogleSearchConfig
	client   *http.Client
	resolver credential.Resolver
	logger   *zap.Logger
}

// New creates the caller.
func New(cfg providers.GoogleSearchConfig, client *http.Client, logger *zap.Logger) *Caller {
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
	return &Caller{
		cfg:      cfg,
		client:   client,
		resolver: credential.NewResolver(Name, credential.FamilyAPIKey, fallback),
		logger:   logger.With(zap.String("provider", Name)),
	}
}

func (c *Caller) Name() string                  { return Name }
func (c *Caller) Resolver() credential.Resolver { return c.resolver }

// Params are the search inputs. Type selects the Serper endpoint
// (search, images, news, shopping ...).
type Params struct {
	Q    string `json:"q"`
	GL   string `json:"gl,omitempty"`
	HL   string `json:"hl,omitempty"`
	Type string `json:"type,omitempty"`
	Num  int    `json:"num,omitempty"`
}

// Call posts {q, gl, hl[, num]} to /{type}. The operation, when set,
// overrides the payload's type.
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
	if strings.TrimSpace(p.Q) == "" {
		return nil, types.NewInvalidRequestError("q is required").
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(Name)
	}
	typ, err := providers.ChooseOperation(Name, req.Operation, p.Type, defaultType)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"q":  p.Q,
		"gl": orDefault(p.GL, "us"),
		"hl": orDefault(p.HL, "en"),
	}
	if p.Num > 0 {
		body["num"] = p.Num
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, providers.InvalidPayload(Name, err)
	}

	h := transport.JSONHeader()
	h.Set("X-API-KEY", key)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + typ
	resp, err := transport.Do(ctx, c.client, http.MethodPost, endpoint, h, raw)
	if err != nil {
		return nil, providers.SubmissionTransportError(Name, err)
	}
	if !resp.OK() {
		return nil, providers.SubmissionHTTPError(Name, resp)
	}
	data, err := providers.DecodeResult(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "search response is not JSON").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(Name)
	}
	requestID := resp.Header.Get("X-Request-Id")
	c.logger.Debug("search done", zap.String("type", typ), zap.String("upstream_request_id", requestID))

	return map[string]any{
		"data":      data,
		"requestId": requestID,
	}, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
