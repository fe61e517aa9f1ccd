package credential

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/mediaflow/types"
)

// Family selects which credential shape a provider expects.
type Family int

const (
	// FamilyAPIKey providers authenticate with a single key.
	FamilyAPIKey Family = iota
	// FamilyAKSK providers sign requests with an access key pair.
	FamilyAKSK
)

func (f Family) String() string {
	if f == FamilyAKSK {
		return "ak_sk"
	}
	return "api_key"
}

var (
	apiKeyAliases    = []string{"apiKey", "api_key", "key"}
	accessKeyAliases = []string{"access_key_id", "accessKeyId", "ak", "AK"}
	secretKeyAliases = []string{"secret_access_key", "secretAccessKey", "sk", "SK"}
)

// Resolver turns an Envelope into a Credential for one provider.
type Resolver struct {
	Provider string
	Family   Family
	// Fallback is the process-wide credential from configuration. It is
	// only consulted when the request carries nothing usable.
	Fallback Credential
}

// NewResolver builds a Resolver. A nil fallback is treated as Absent.
func NewResolver(provider string, family Family, fallback Credential) Resolver {
	if fallback == nil {
		fallback = Absent{}
	}
	return Resolver{Provider: provider, Family: family, Fallback: fallback}
}

// Resolve applies the precedence plain string → direct fields →
// encryptedData → configured fallback. When nothing matches it returns a
// CONFIGURATION error. Resolve never returns Absent with a nil error.
func (r Resolver) Resolve(env *Envelope) (Credential, error) {
	var found Credential = Absent{}

	if env != nil && env.set {
		switch r.Family {
		case FamilyAKSK:
			found = r.resolveAKSK(env)
		default:
			found = r.resolveAPIKey(env)
		}
	}
	if IsUsable(found) {
		return found, nil
	}
	if r.Fallback != nil && IsUsable(r.Fallback) && r.Fallback.Kind() == r.expectedKind() {
		return r.Fallback, nil
	}

	msg := "no " + r.Family.String() + " credential supplied and none configured"
	return Absent{}, types.NewConfigurationError(r.Provider, msg).WithHTTPStatus(400)
}

func (r Resolver) expectedKind() Kind {
	if r.Family == FamilyAKSK {
		return KindAKSK
	}
	return KindAPIKey
}

func (r Resolver) resolveAPIKey(env *Envelope) Credential {
	if key := strings.TrimSpace(env.plain); key != "" {
		return APIKey{Key: key}
	}
	if key := lookup(env.fields, apiKeyAliases); key != "" {
		return APIKey{Key: key}
	}

	raw := lookup(env.fields, []string{"encryptedData"})
	if raw == "" {
		return Absent{}
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(raw), &inner); err != nil {
		// 非 JSON 载荷直接作为 API Key 使用
		return APIKey{Key: strings.TrimSpace(raw)}
	}
	if key := lookup(inner, apiKeyAliases); key != "" {
		return APIKey{Key: key}
	}
	return Absent{}
}

func (r Resolver) resolveAKSK(env *Envelope) Credential {
	if c := pair(env.fields); IsUsable(c) {
		return c
	}
	raw := lookup(env.fields, []string{"encryptedData"})
	if raw == "" {
		return Absent{}
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(raw), &inner); err != nil {
		return Absent{}
	}
	if c := pair(inner); IsUsable(c) {
		return c
	}
	return Absent{}
}

func pair(fields map[string]any) Credential {
	ak := lookup(fields, accessKeyAliases)
	sk := lookup(fields, secretKeyAliases)
	if ak == "" || sk == "" {
		return Absent{}
	}
	return AKSK{AccessKeyID: ak, SecretAccessKey: sk}
}

// lookup returns the first non-empty string value among aliases.
func lookup(fields map[string]any, aliases []string) string {
	for _, k := range aliases {
		if s, ok := fields[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
