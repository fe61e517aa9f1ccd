package credential

import (
	"encoding/json"
	"strings"
)

// Kind names the variant held by a Credential.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindAKSK   Kind = "ak_sk"
	KindAbsent Kind = "absent"
)

// Credential is the closed set of authentication shapes a provider call can
// carry: APIKey, AKSK or Absent. The unexported marker keeps the set closed.
type Credential interface {
	Kind() Kind
	String() string
	isCredential()
}

// APIKey is a single bearer-style secret.
type APIKey struct {
	Key string
}

// AKSK is an access key id / secret access key pair used for request signing.
type AKSK struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Absent means no credential could be found.
type Absent struct{}

func (APIKey) isCredential() {}
func (AKSK) isCredential()   {}
func (Absent) isCredential() {}

func (APIKey) Kind() Kind { return KindAPIKey }
func (AKSK) Kind() Kind   { return KindAKSK }
func (Absent) Kind() Kind { return KindAbsent }

func (k APIKey) String() string {
	if k.Key == "" {
		return "APIKey{}"
	}
	return "APIKey{Key:" + mask(k.Key) + "}"
}

func (c AKSK) String() string {
	return "AKSK{AccessKeyID:" + mask(c.AccessKeyID) + ", SecretAccessKey:***}"
}

func (Absent) String() string { return "Absent{}" }

func (k APIKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": string(KindAPIKey), "key": mask(k.Key)})
}

func (c AKSK) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"kind":              string(KindAKSK),
		"access_key_id":     mask(c.AccessKeyID),
		"secret_access_key": "***",
	})
}

func (Absent) MarshalJSON() ([]byte, error) {
	return []byte(`{"kind":"absent"}`), nil
}

// IsUsable reports whether c carries a complete secret.
func IsUsable(c Credential) bool {
	switch v := c.(type) {
	case APIKey:
		return strings.TrimSpace(v.Key) != ""
	case AKSK:
		return v.AccessKeyID != "" && v.SecretAccessKey != ""
	default:
		return false
	}
}

// mask keeps the last four characters of long secrets so operators can
// tell keys apart in logs.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
