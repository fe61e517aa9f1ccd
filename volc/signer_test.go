package volc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func baseRequest() Request {
	return Request{
		Method:          "POST",
		Host:            "visual.volcengineapi.com",
		Path:            "/",
		Query:           map[string]any{"Action": "CVSync2AsyncSubmitTask", "Version": "2022-08-31"},
		Body:            `{"req_key":"jimeng_t2i_v40","prompt":"a cat"}`,
		AccessKeyID:     "AKTEST",
		SecretAccessKey: "SKTEST",
		Region:          "cn-north-1",
		Service:         "cv",
		XDate:           "20240102T030405Z",
	}
}

func TestSign_Deterministic(t *testing.T) {
	t.Parallel()

	a := Sign(baseRequest())
	b := Sign(baseRequest())
	assert.Equal(t, a.Authorization, b.Authorization)
	assert.Equal(t, a.Headers, b.Headers)
}

func TestSign_OutputHeaders(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Headers = map[string]any{"x-custom": "v", "x-null": nil}
	sig := Sign(req)

	assert.Equal(t, "visual.volcengineapi.com", sig.Headers["Host"])
	assert.Equal(t, ContentType, sig.Headers["Content-Type"])
	assert.Equal(t, HashHex(req.Body), sig.Headers["X-Content-Sha256"])
	assert.Equal(t, "20240102T030405Z", sig.Headers["X-Date"])
	assert.Equal(t, "v", sig.Headers["X-custom"])
	_, present := sig.Headers["X-null"]
	assert.False(t, present)

	assert.Equal(t, []string{"content-type", "host", "x-content-sha256", "x-custom", "x-date"}, sig.SignedHeaders)
	assert.True(t, strings.HasPrefix(sig.Authorization,
		"HMAC-SHA256 Credential=AKTEST/20240102/cn-north-1/cv/request, SignedHeaders=content-type;host;x-content-sha256;x-custom;x-date, Signature="))
}

func TestSign_CanonicalRequestLayout(t *testing.T) {
	t.Parallel()

	sig := Sign(baseRequest())
	lines := strings.Split(sig.CanonicalRequest, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "POST", lines[0])
	assert.Equal(t, "/", lines[1])
	assert.Equal(t, "Action=CVSync2AsyncSubmitTask&Version=2022-08-31", lines[2])
	assert.Equal(t, "content-type:application/json", lines[3])
	assert.Equal(t, "host:visual.volcengineapi.com", lines[4])
	assert.Equal(t, "x-date:20240102T030405Z", lines[6])
	assert.Equal(t, "", lines[7])
	assert.Equal(t, "content-type;host;x-content-sha256;x-date", lines[8])
	assert.Equal(t, HashHex(baseRequest().Body), lines[9])
}

func TestSign_IndependentDerivation(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	sig := Sign(req)

	mac := func(key []byte, s string) []byte {
		h := hmac.New(sha256.New, key)
		h.Write([]byte(s))
		return h.Sum(nil)
	}
	k := mac([]byte("VOLC"+req.SecretAccessKey), "20240102")
	k = mac(k, req.Region)
	k = mac(k, req.Service)
	k = mac(k, "request")

	crHash := sha256.Sum256([]byte(sig.CanonicalRequest))
	sts := "HMAC-SHA256\n20240102T030405Z\n20240102/cn-north-1/cv/request\n" + hex.EncodeToString(crHash[:])
	assert.Equal(t, sts, sig.StringToSign)

	want := hex.EncodeToString(mac(k, sts))
	assert.True(t, strings.HasSuffix(sig.Authorization, "Signature="+want))
}

func TestSign_KnownAnswer(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Query["a b!*'()~"] = "x+y é"
	req.Headers = map[string]any{"x-custom": " v "}
	sig := Sign(req)

	assert.Equal(t,
		"Action=CVSync2AsyncSubmitTask&Version=2022-08-31&a%20b%21%2A%27%28%29~=x%2By%20%C3%A9",
		strings.Split(sig.CanonicalRequest, "\n")[2])
	assert.Equal(t, "HMAC-SHA256 Credential=AKTEST/20240102/cn-north-1/cv/request, "+
		"SignedHeaders=content-type;host;x-content-sha256;x-custom;x-date, "+
		"Signature=87daf473409e2d058109e3138ece4150998a85c9d3310d5f557fc28bb577bdc0", sig.Authorization)
}

func TestSign_EmptyBodyHash(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.Body = ""
	sig := Sign(req)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sig.Headers["X-Content-Sha256"])
}

func TestSign_DefaultsTimeAndPath(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.XDate = ""
	req.Path = ""
	req.Method = "post"
	sig := Sign(req)

	_, err := time.Parse(TimeFormat, sig.XDate)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig.CanonicalRequest, "POST\n/\n"))
}

func TestSign_QueryValueTypes(t *testing.T) {
	t.Parallel()

	q := map[string]any{"b": 2, "a": true, "c": 1.5, "d": nil, "e": int64(7)}
	assert.Equal(t, "a=true&b=2&c=1.5&e=7", CanonicalQuery(q))
	assert.Equal(t, "", CanonicalQuery(nil))
}

func TestEncodeRFC3986(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"abcXYZ019", "abcXYZ019"},
		{"-_.~", "-_.~"},
		{"a b", "a%20b"},
		{"!*'()", "%21%2A%27%28%29"},
		{"a+b=c&d", "a%2Bb%3Dc%26d"},
		{"中", "%E4%B8%AD"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeRFC3986(tt.in))
		})
	}
}

func TestSignature_Apply(t *testing.T) {
	t.Parallel()

	sig := Sign(baseRequest())
	r, err := http.NewRequest(http.MethodPost, "https://visual.volcengineapi.com/?Action=x", nil)
	require.NoError(t, err)
	sig.Apply(r)

	assert.Equal(t, "visual.volcengineapi.com", r.Host)
	assert.Equal(t, sig.Authorization, r.Header.Get("Authorization"))
	assert.Equal(t, sig.XDate, r.Header.Get("X-Date"))
	assert.Empty(t, r.Header.Get("Host"))
}

// 相同的键值集合以任意顺序插入时签名必须一致。
func TestProperty_SignOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z][a-z0-9_]{0,8}`), 1, 6, rapid.ID[string]).Draw(rt, "keys")
		vals := rapid.SliceOfN(rapid.String(), len(keys), len(keys)).Draw(rt, "vals")
		perm := rapid.Permutation(keys).Draw(rt, "perm")

		forward := make(map[string]any, len(keys))
		for i, k := range keys {
			forward[k] = vals[i]
		}
		reordered := make(map[string]any, len(keys))
		for _, k := range perm {
			reordered[k] = forward[k]
		}

		a := baseRequest()
		a.Query = forward
		a.Headers = map[string]any{"x-" + keys[0]: "h"}
		b := baseRequest()
		b.Query = reordered
		b.Headers = map[string]any{"x-" + keys[0]: "h"}

		if Sign(a).Authorization != Sign(b).Authorization {
			rt.Fatalf("signature depends on insertion order for %v", keys)
		}
	})
}

func TestProperty_SignatureChangesWithSecret(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s1 := rapid.StringMatching(`[A-Za-z0-9]{8,16}`).Draw(rt, "s1")
		s2 := rapid.StringMatching(`[A-Za-z0-9]{8,16}`).Filter(func(s string) bool { return s != s1 }).Draw(rt, "s2")

		a := baseRequest()
		a.SecretAccessKey = s1
		b := baseRequest()
		b.SecretAccessKey = s2
		if Sign(a).Authorization == Sign(b).Authorization {
			rt.Fatalf("distinct secrets produced the same signature")
		}
	})
}
