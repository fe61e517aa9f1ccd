package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/types"
)

type fakeProvider struct {
	mu        sync.Mutex
	tokens    []string
	polls     int
	submitErr error
	seenCred  credential.Credential
	seenURLs  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Resolver() credential.Resolver {
	return credential.NewResolver("fake", credential.FamilyAPIKey, credential.APIKey{Key: "cfg-key"})
}

func (f *fakeProvider) Submit(_ context.Context, req *Request) (*Handle, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.mu.Lock()
	f.seenCred = req.Credential
	f.mu.Unlock()
	return &Handle{ID: "remote-1"}, nil
}

func (f *fakeProvider) Poll(_ context.Context, h *Handle) (*Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.Credential == nil || h.Credential.Kind() != credential.KindAPIKey {
		return nil, errors.New("credential not threaded into poll")
	}
	f.seenURLs = append(f.seenURLs, h.StatusURL, h.ResponseURL)
	i := f.polls
	f.polls++
	tok := f.tokens[len(f.tokens)-1]
	if i < len(f.tokens) {
		tok = f.tokens[i]
	}
	return &Observation{HTTPStatus: 200, Token: tok, Body: json.RawMessage(`{"url":"https://cdn.example.com/a.png"}`)}, nil
}

func (f *fakeProvider) Classifier() Classifier { return testTable }

func (f *fakeProvider) Result(_ context.Context, _ *Handle, obs *Observation) (any, error) {
	var out map[string]any
	err := json.Unmarshal(obs.Body, &out)
	return out, err
}

func (f *fakeProvider) Budget() Budget {
	return Budget{InitialDelay: time.Second, Interval: time.Second, MaxAttempts: 5, MaxTransientFailures: 3}
}

type fakeCaller struct{}

func (fakeCaller) Name() string { return "sync" }
func (fakeCaller) Resolver() credential.Resolver {
	return credential.NewResolver("sync", credential.FamilyAPIKey, nil)
}
func (fakeCaller) Call(_ context.Context, req *Request) (any, error) {
	return map[string]any{"key": req.Credential.(credential.APIKey).Key}, nil
}

type upperPost struct{ calls int }

func (u *upperPost) Process(_ context.Context, v any) (any, error) {
	u.calls++
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	m["rehosted"] = true
	return m, nil
}

type countingObserver struct {
	mu       sync.Mutex
	submits  map[string]int
	rounds   map[string]int
	finished map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{submits: map[string]int{}, rounds: map[string]int{}, finished: map[string]int{}}
}

func (c *countingObserver) Submitted(_, outcome string) {
	c.mu.Lock()
	c.submits[outcome]++
	c.mu.Unlock()
}

func (c *countingObserver) PollRound(_, outcome string) {
	c.mu.Lock()
	c.rounds[outcome]++
	c.mu.Unlock()
}

func (c *countingObserver) Finished(_, outcome string, _ int, _ time.Duration) {
	c.mu.Lock()
	c.finished[outcome]++
	c.mu.Unlock()
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestRunner_SubmitAndWait(t *testing.T) {
	fp := &fakeProvider{tokens: []string{"Pending", "Pending", "Ready"}}
	post := &upperPost{}
	obs := newCountingObserver()
	r := NewRunner(zap.NewNop(), WithPostProcessor(post), WithRunnerSleep(noSleep), WithRunnerObserver(obs))
	r.Register(fp)

	status, err := r.SubmitAndWait(context.Background(), "fake", credential.Plain("req-key"), Request{Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, "remote-1", status.TaskID)
	assert.Equal(t, 3, status.Attempts)
	assert.Equal(t, true, status.Result.(map[string]any)["rehosted"])
	assert.Equal(t, 1, post.calls)
	assert.Equal(t, credential.APIKey{Key: "req-key"}, fp.seenCred)

	assert.Equal(t, 1, obs.submits["accepted"])
	assert.Equal(t, 2, obs.rounds["processing"])
	assert.Equal(t, 1, obs.rounds["completed"])
	assert.Equal(t, 1, obs.finished["completed"])
}

func TestRunner_FallbackCredential(t *testing.T) {
	fp := &fakeProvider{tokens: []string{"Ready"}}
	r := NewRunner(zap.NewNop(), WithRunnerSleep(noSleep))
	r.Register(fp)

	_, err := r.SubmitAndWait(context.Background(), "fake", nil, Request{})
	require.NoError(t, err)
	assert.Equal(t, credential.APIKey{Key: "cfg-key"}, fp.seenCred)
}

func TestRunner_UnknownProvider(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.SubmitAndWait(context.Background(), "nope", nil, Request{})
	assert.True(t, types.IsErrorCode(err, types.ErrProviderNotFound))
	_, err = r.Call(context.Background(), "nope", nil, Request{})
	assert.True(t, types.IsErrorCode(err, types.ErrProviderNotFound))
}

func TestRunner_SubmissionErrorPropagates(t *testing.T) {
	fp := &fakeProvider{submitErr: types.NewError(types.ErrSubmission, "rejected")}
	r := NewRunner(zap.NewNop(), WithRunnerSleep(noSleep))
	r.Register(fp)

	status, err := r.SubmitAndWait(context.Background(), "fake", nil, Request{})
	assert.Nil(t, status)
	assert.True(t, types.IsErrorCode(err, types.ErrSubmission))
	assert.Equal(t, 0, fp.polls)
}

func TestRunner_SubmitThenQuery(t *testing.T) {
	fp := &fakeProvider{tokens: []string{"Pending", "Ready"}}
	post := &upperPost{}
	r := NewRunner(zap.NewNop(), WithPostProcessor(post), WithRunnerSleep(noSleep))
	r.Register(fp)

	h, err := r.Submit(context.Background(), "fake", nil, Request{Operation: "op"})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", h.ID)
	assert.Equal(t, "fake", h.Provider)
	assert.Equal(t, "op", h.Operation)

	status, err := r.Query(context.Background(), "fake", nil, Handle{ID: h.ID})
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, status.State)
	assert.Equal(t, 0, post.calls)

	status, err = r.Query(context.Background(), "fake", nil, Handle{ID: h.ID})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, post.calls)

	_, err = r.Query(context.Background(), "fake", nil, Handle{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestRunner_QueryDropsCallerSuppliedURLs(t *testing.T) {
	fp := &fakeProvider{tokens: []string{"Pending"}}
	r := NewRunner(zap.NewNop(), WithRunnerSleep(noSleep))
	r.Register(fp)

	_, err := r.Query(context.Background(), "fake", nil, Handle{
		ID:          "remote-1",
		StatusURL:   "https://collector.invalid/steal",
		ResponseURL: "https://collector.invalid/steal-more",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", ""}, fp.seenURLs)
}

func TestRunner_Call(t *testing.T) {
	r := NewRunner(zap.NewNop(), WithPostProcessor(&upperPost{}))
	r.RegisterCaller(fakeCaller{})

	out, err := r.Call(context.Background(), "sync", credential.Plain("k1"), Request{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "k1", "rehosted": true}, out)

	_, err = r.Call(context.Background(), "sync", nil, Request{})
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
}

func TestRunner_Providers(t *testing.T) {
	r := NewRunner(zap.NewNop())
	r.Register(&fakeProvider{tokens: []string{"Ready"}})
	r.RegisterCaller(fakeCaller{})

	infos := r.Providers()
	require.Len(t, infos, 2)
	assert.Equal(t, "fake", infos[0].Name)
	assert.Equal(t, "async", infos[0].Mode)
	assert.True(t, infos[0].Configured)
	assert.Equal(t, 5, infos[0].MaxAttempts)
	assert.Equal(t, "sync", infos[1].Name)
	assert.False(t, infos[1].Configured)
}
