package volc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Algorithm is the tag that opens both the string-to-sign and the
	// Authorization header.
	Algorithm = "HMAC-SHA256"

	// TimeFormat is the layout of the X-Date header (YYYYMMDDTHHMMSSZ).
	TimeFormat = "20060102T150405Z"

	// ContentType is the only body type the signed endpoints accept.
	ContentType = "application/json"

	keySeed    = "VOLC"
	terminator = "request"
)

// Request carries everything that takes part in a signature.
//
// Query and Headers accept strings, numbers, booleans and fmt.Stringer
// values; nil values are dropped before anything is encoded.
type Request struct {
	Method          string
	Host            string
	Path            string
	Query           map[string]any
	Headers         map[string]any
	Body            string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Service         string
	// XDate pins the timestamp. When empty the current UTC time is used.
	XDate string
}

// Signature is the output of Sign.
type Signature struct {
	// Headers to send, keyed by their outbound spelling.
	Headers          map[string]string
	SignedHeaders    []string
	CanonicalRequest string
	StringToSign     string
	Authorization    string
	XDate            string
}

// Sign computes the four-step signature: canonical request, string to
// sign, derived signing key and final HMAC.
func Sign(req Request) *Signature {
	method := strings.ToUpper(req.Method)
	path := req.Path
	if path == "" {
		path = "/"
	}
	xDate := req.XDate
	if xDate == "" {
		xDate = FormatTime(time.Now())
	}
	date := xDate
	if len(date) > 8 {
		date = date[:8]
	}

	payloadHash := HashHex(req.Body)

	signing := map[string]string{
		"host":             req.Host,
		"content-type":     ContentType,
		"x-content-sha256": payloadHash,
		"x-date":           xDate,
	}
	extra := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		s, ok := stringify(v)
		if !ok {
			continue
		}
		lk := strings.ToLower(k)
		extra[lk] = s
		signing[lk] = s
	}

	names := make([]string, 0, len(signing))
	for k := range signing {
		names = append(names, k)
	}
	sort.Strings(names)

	var hb strings.Builder
	for i, k := range names {
		if i > 0 {
			hb.WriteByte('\n')
		}
		hb.WriteString(k)
		hb.WriteByte(':')
		hb.WriteString(strings.TrimSpace(signing[k]))
	}
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		method,
		path,
		CanonicalQuery(req.Query),
		hb.String() + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := date + "/" + req.Region + "/" + req.Service + "/" + terminator
	stringToSign := strings.Join([]string{
		Algorithm,
		xDate,
		scope,
		HashHex(canonicalRequest),
	}, "\n")

	key := SigningKey(req.SecretAccessKey, date, req.Region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, req.AccessKeyID, scope, signedHeaders, signature)

	out := map[string]string{
		"Host":             req.Host,
		"Content-Type":     ContentType,
		"X-Content-Sha256": payloadHash,
		"X-Date":           xDate,
		"Authorization":    authorization,
	}
	for k, v := range extra {
		out[upperFirst(k)] = v
	}

	return &Signature{
		Headers:          out,
		SignedHeaders:    names,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		Authorization:    authorization,
		XDate:            xDate,
	}
}

// Apply copies the signed headers onto r. Host goes to r.Host because
// net/http ignores a Host entry in the header map.
func (s *Signature) Apply(r *http.Request) {
	for k, v := range s.Headers {
		if k == "Host" {
			r.Host = v
			continue
		}
		r.Header.Set(k, v)
	}
}

// SigningKey derives the scoped key: seed+secret keys the date, then the
// result is re-keyed with region, service and the literal terminator.
func SigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte(keySeed+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

// CanonicalQuery encodes, sorts by key and joins the query with '&'.
func CanonicalQuery(query map[string]any) string {
	if len(query) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, v := range query {
		s, ok := stringify(v)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{k, s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = EncodeRFC3986(p.k) + "=" + EncodeRFC3986(p.v)
	}
	return strings.Join(parts, "&")
}

// EncodeRFC3986 percent-encodes everything outside A-Z a-z 0-9 - _ . ~,
// so ! * ' ( ) are escaped as well and spaces become %20.
func EncodeRFC3986(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// FormatTime renders t in the X-Date layout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// HashHex returns the hex SHA-256 of s.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// stringify renders header and query values consistently. ok is false for
// nil, which callers treat as "absent".
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
