package rehost

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/internal/retry"
	"github.com/BaSui01/mediaflow/transport"
)

const instrumentationName = "github.com/BaSui01/mediaflow/rehost"

// Outcomes reported to Observer.Rehosted.
const (
	OutcomeUploaded = "uploaded"
	OutcomeCached   = "cached"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// URLCache remembers source URL → rehosted URL. *cache.Manager satisfies it.
type URLCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Observer receives rehost events. *metrics.Collector satisfies it.
type Observer interface {
	Rehosted(outcome string)
	CacheLookup(hit bool)
}

type nopObserver struct{}

func (nopObserver) Rehosted(string)  {}
func (nopObserver) CacheLookup(bool) {}

// Rehoster copies every file URL found in a provider result into Storage
// and rewrites the result to point at the copies. It implements
// task.PostProcessor.
type Rehoster struct {
	storage Storage
	client  *http.Client
	logger  *zap.Logger
	tracer  trace.Tracer

	cache    URLCache
	cacheTTL time.Duration
	observer Observer
	retryer  *retry.Retryer

	concurrency int
	maxBytes    int64
	keyPrefix   string
	now         func() time.Time
}

// Option configures a Rehoster.
type Option func(*Rehoster)

// WithCache enables the URL cache.
func WithCache(c URLCache, ttl time.Duration) Option {
	return func(r *Rehoster) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(r *Rehoster) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithRetry sets the retry policy for downloads.
func WithRetry(rt *retry.Retryer) Option {
	return func(r *Rehoster) { r.retryer = rt }
}

// WithConcurrency bounds parallel transfers per result.
func WithConcurrency(n int) Option {
	return func(r *Rehoster) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMaxObjectBytes caps a single download; 0 means unlimited.
func WithMaxObjectBytes(n int64) Option {
	return func(r *Rehoster) { r.maxBytes = n }
}

// WithKeyPrefix sets the object key prefix, "uploads/" by default.
func WithKeyPrefix(p string) Option {
	return func(r *Rehoster) { r.keyPrefix = p }
}

// New creates a Rehoster. A nil storage yields a pass-through processor.
func New(storage Storage, client *http.Client, logger *zap.Logger, opts ...Option) *Rehoster {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rehoster{
		storage:     storage,
		client:      client,
		logger:      logger.With(zap.String("component", "rehost")),
		tracer:      otel.Tracer(instrumentationName),
		observer:    nopObserver{},
		concurrency: 4,
		keyPrefix:   "uploads/",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retryer == nil {
		policy := retry.DefaultPolicy()
		policy.ShouldRetry = func(err error) bool {
			return !errors.Is(err, errTooLarge) && retry.IsTransient(err)
		}
		r.retryer = retry.New(policy, r.logger)
	}
	return r
}

// Enabled reports whether a storage target is configured.
func (r *Rehoster) Enabled() bool {
	return r != nil && r.storage != nil
}

// Process implements task.PostProcessor. Strings, arrays and objects are
// walked recursively; the input is never mutated. A URL that cannot be
// rehosted stays as it was. URLs already in the storage are left alone,
// so processing an output twice changes nothing.
func (r *Rehoster) Process(ctx context.Context, v any) (any, error) {
	if !r.Enabled() || v == nil {
		return v, nil
	}

	var urls []string
	seen := make(map[string]struct{})
	walkStrings(v, func(s string) {
		for _, u := range ExtractURLs(s) {
			if _, ok := seen[u]; ok || r.storage.Owns(u) {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	})
	if len(urls) == 0 {
		return v, nil
	}

	ctx, span := r.tracer.Start(ctx, "rehost.process", trace.WithAttributes(
		attribute.Int("rehost.urls", len(urls)),
	))
	defer span.End()

	var mu sync.Mutex
	mapping := make(map[string]string, len(urls))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if dst, ok := r.rehostOne(ctx, u); ok {
				mu.Lock()
				mapping[u] = dst
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("rehost.rewritten", len(mapping)))
	if len(mapping) == 0 {
		return v, nil
	}
	return rewrite(v, newReplacer(mapping)), nil
}

// ErrDisabled is returned by Upload when no storage is configured.
var ErrDisabled = errors.New("rehost storage is not configured")

// Upload stores generated bytes (e.g. inline base64 images) and returns
// their public URL.
func (r *Rehoster) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if !r.Enabled() {
		return "", ErrDisabled
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return "", fmt.Errorf("%w: limit %d bytes", errTooLarge, r.maxBytes)
	}
	key := fmt.Sprintf("%s%d-%s.%s", r.keyPrefix, r.now().UnixMilli(), uuid.NewString(), Extension("", contentType, ""))
	dst, err := r.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		r.observer.Rehosted(OutcomeFailed)
		return "", err
	}
	r.observer.Rehosted(OutcomeUploaded)
	r.logger.Info("object uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return dst, nil
}

// rehostOne returns the new URL, or false when u should stay unchanged.
func (r *Rehoster) rehostOne(ctx context.Context, u string) (string, bool) {
	log := r.logger.With(zap.String("url", u))

	cacheKey := CacheKey(u)
	if r.cache != nil {
		dst, err := r.cache.Get(ctx, cacheKey)
		switch {
		case err == nil && dst != "":
			r.observer.CacheLookup(true)
			r.observer.Rehosted(OutcomeCached)
			return dst, true
		case err != nil && !cache.IsCacheMiss(err):
			log.Debug("url cache unavailable", zap.Error(err))
		}
		r.observer.CacheLookup(false)
	}

	obj, err := retry.Do(ctx, r.retryer, func(ctx context.Context) (*object, error) {
		return r.fetch(ctx, u)
	})
	if err != nil {
		log.Warn("download failed, keeping original url", zap.Error(err))
		r.observer.Rehosted(OutcomeFailed)
		return "", false
	}
	if obj == nil {
		log.Debug("not a file url")
		r.observer.Rehosted(OutcomeSkipped)
		return "", false
	}

	key := fmt.Sprintf("%s%d-%s.%s", r.keyPrefix, r.now().UnixMilli(), uuid.NewString(), obj.ext)
	dst, err := r.storage.Put(ctx, key, bytes.NewReader(obj.data), int64(len(obj.data)), obj.contentType)
	if err != nil {
		log.Warn("upload failed, keeping original url", zap.Error(err))
		r.observer.Rehosted(OutcomeFailed)
		return "", false
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, dst, r.cacheTTL); err != nil {
			log.Debug("url cache write failed", zap.Error(err))
		}
	}
	r.observer.Rehosted(OutcomeUploaded)
	log.Info("url rehosted", zap.String("key", key), zap.Int("bytes", len(obj.data)))
	return dst, true
}

var errTooLarge = errors.New("object too large")

type object struct {
	data        []byte
	contentType string
	ext         string
}

// fetch probes u with HEAD and downloads it. A nil object means u is not
// a file (HTML page or no content type). When HEAD is refused the GET
// headers decide instead.
func (r *Rehoster) fetch(ctx context.Context, u string) (*object, error) {
	if ok, err := r.probe(ctx, u); err == nil && !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &transport.HTTPError{URL: u, StatusCode: resp.StatusCode, Body: body}
	}
	ct := resp.Header.Get("Content-Type")
	if !isFileContentType(ct) {
		return nil, nil
	}

	var body io.Reader = resp.Body
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", errTooLarge, r.maxBytes)
	}

	return &object{
		data:        data,
		contentType: ct,
		ext:         Extension(resp.Header.Get("Content-Disposition"), ct, u),
	}, nil
}

// probe reports whether a HEAD request identifies u as a file. An error
// means HEAD gave no usable answer.
func (r *Rehoster) probe(ctx context.Context, u string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("head returned %d", resp.StatusCode)
	}
	return isFileContentType(resp.Header.Get("Content-Type")), nil
}

// CacheKey is the URL cache key for a source URL.
func CacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return "url:" + hex.EncodeToString(sum[:])
}

func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]any:
		for _, e := range t {
			walkStrings(e, fn)
		}
	case []any:
		for _, e := range t {
			walkStrings(e, fn)
		}
	}
}

// rewrite returns a copy of v with every string passed through rep.
func rewrite(v any, rep *strings.Replacer) any {
	switch t := v.(type) {
	case string:
		return rep.Replace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = rewrite(e, rep)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = rewrite(e, rep)
		}
		return out
	default:
		return v
	}
}

// newReplacer prefers longer URLs so a URL that prefixes another is not
// substituted inside it.
func newReplacer(mapping map[string]string) *strings.Replacer {
	src := make([]string, 0, len(mapping))
	for k := range mapping {
		src = append(src, k)
	}
	sort.Slice(src, func(i, j int) bool {
		if len(src[i]) != len(src[j]) {
			return len(src[i]) > len(src[j])
		}
		return src[i] < src[j]
	})
	pairs := make([]string, 0, 2*len(src))
	for _, k := range src {
		pairs = append(pairs, k, mapping[k])
	}
	return strings.NewReplacer(pairs...)
}
