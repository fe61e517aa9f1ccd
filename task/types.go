package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/mediaflow/credential"
)

// State is the internal task state every provider vocabulary maps onto.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	// StateTimeout is never produced by classification. The poller
	// assigns it when the attempt budget runs out.
	StateTimeout State = "timeout"
)

// IsTerminal reports whether no further polling can change the state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// Handle identifies a submitted remote job. It lives only for the duration
// of one request and is never persisted.
type Handle struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	// Operation is the provider-specific endpoint or model the job was
	// submitted to; some providers need it to build status URLs.
	Operation   string                `json:"operation,omitempty"`
	StatusURL   string                `json:"status_url,omitempty"`
	ResponseURL string                `json:"response_url,omitempty"`
	Credential  credential.Credential `json:"-"`
	SubmittedAt time.Time             `json:"submitted_at"`
}

// Observation is one raw status answer from a provider.
type Observation struct {
	HTTPStatus int
	// Token is the provider's status string exactly as received.
	Token string
	Body  json.RawMessage
}

// Status is what a poll loop or a single query reports upward.
type Status struct {
	TaskID    string        `json:"task_id"`
	Provider  string        `json:"provider"`
	State     State         `json:"state"`
	RawStatus string        `json:"raw_status,omitempty"`
	Result    any           `json:"result,omitempty"`
	Detail    any           `json:"detail,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Request is one submission.
type Request struct {
	// Operation selects the provider endpoint or model. Empty means the
	// provider default.
	Operation  string                `json:"operation,omitempty"`
	Payload    json.RawMessage       `json:"payload"`
	Credential credential.Credential `json:"-"`
}

// Budget bounds a poll loop.
type Budget struct {
	InitialDelay         time.Duration `yaml:"initial_delay" json:"initial_delay"`
	Interval             time.Duration `yaml:"interval" json:"interval"`
	MaxAttempts          int           `yaml:"max_attempts" json:"max_attempts"`
	MaxTransientFailures int           `yaml:"max_transient_failures" json:"max_transient_failures"`
}

// Validate rejects budgets that could never finish or never poll.
func (b Budget) Validate() error {
	if b.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", b.MaxAttempts)
	}
	if b.Interval < 0 || b.InitialDelay < 0 {
		return fmt.Errorf("interval and initial_delay must not be negative")
	}
	if b.MaxTransientFailures <= 0 {
		return fmt.Errorf("max_transient_failures must be positive, got %d", b.MaxTransientFailures)
	}
	return nil
}

// Ceiling is the longest a loop can wait, excluding request latency.
func (b Budget) Ceiling() time.Duration {
	if b.MaxAttempts <= 0 {
		return b.InitialDelay
	}
	return b.InitialDelay + time.Duration(b.MaxAttempts-1)*b.Interval
}

// Option overrides part of a Budget for one call.
type Option func(*Budget)

// WithInterval sets the delay between polls.
func WithInterval(d time.Duration) Option {
	return func(b *Budget) { b.Interval = d }
}

// WithMaxAttempts sets how many status queries are made before giving up.
func WithMaxAttempts(n int) Option {
	return func(b *Budget) { b.MaxAttempts = n }
}

// WithInitialDelay sets the settle time before the first query.
func WithInitialDelay(d time.Duration) Option {
	return func(b *Budget) { b.InitialDelay = d }
}

// WithMaxTransientFailures sets how many consecutive poll errors are
// tolerated.
func WithMaxTransientFailures(n int) Option {
	return func(b *Budget) { b.MaxTransientFailures = n }
}

// Apply returns a copy of b with opts applied.
func (b Budget) Apply(opts ...Option) Budget {
	for _, o := range opts {
		if o != nil {
			o(&b)
		}
	}
	return b
}

// Provider is an asynchronous job backend.
type Provider interface {
	Name() string
	// Resolver tells the runner which credential family the provider needs
	// and what the configured fallback is.
	Resolver() credential.Resolver
	// Submit issues exactly one creation call. A missing task id in the
	// response is a SUBMISSION error.
	Submit(ctx context.Context, req *Request) (*Handle, error)
	// Poll issues one status query. Transport failures are returned as
	// errors; any HTTP answer is returned as an Observation.
	Poll(ctx context.Context, h *Handle) (*Observation, error)
	Classifier() Classifier
	// Result builds the normalized output of a completed observation.
	Result(ctx context.Context, h *Handle, obs *Observation) (any, error)
	Budget() Budget
}

// Caller is a synchronous backend that answers in one request.
type Caller interface {
	Name() string
	Resolver() credential.Resolver
	Call(ctx context.Context, req *Request) (any, error)
}

// PostProcessor rewrites a completed result, e.g. rehosting media URLs.
type PostProcessor interface {
	Process(ctx context.Context, result any) (any, error)
}

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Submitted(provider, outcome string)
	PollRound(provider, outcome string)
	Finished(provider, outcome string, attempts int, elapsed time.Duration)
}

// Outcomes reported to Observer.Finished besides the terminal states.
const (
	OutcomeCancelled   = "cancelled"
	OutcomeUnreachable = "unreachable"
)

type nopObserver struct{}

func (nopObserver) Submitted(string, string)                    {}
func (nopObserver) PollRound(string, string)                    {}
func (nopObserver) Finished(string, string, int, time.Duration) {}
