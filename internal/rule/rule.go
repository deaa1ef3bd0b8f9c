// Package rule holds the durable catalog of named limiting configurations
// and the policy that selects which rule governs an unqualified request.
package rule

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/limiter"
)

// KeyType classifies what a KeyConfig matches against.
type KeyType string

const (
	KeyUser     KeyType = "user"
	KeyIP       KeyType = "ip"
	KeyEndpoint KeyType = "endpoint"
	KeyCustom   KeyType = "custom"
)

// KeyConfig is a matching predicate inside a rule. Value "*" matches any
// subject key; any other value matches by substring containment.
type KeyConfig struct {
	Type  KeyType `json:"type"`
	Value string  `json:"value"`
}

// Rule is a reusable named limiting configuration. The persisted record is
// this struct's JSON form, stored under "rule:<id>".
type Rule struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Algorithm  limiter.Algorithm `json:"algorithm"`
	Limit      int64             `json:"limit"`
	Window     int64             `json:"window"` // seconds
	Keys       []KeyConfig       `json:"keys"`
	WebhookURL string            `json:"webhookUrl,omitempty"`
	Thresholds []int             `json:"thresholds"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// WindowDuration returns the rule window as a time.Duration.
func (r *Rule) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// Validate checks the rule invariants.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if _, err := limiter.ParseAlgorithm(string(r.Algorithm)); err != nil {
		return err
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rule limit must be positive, got %d", r.Limit)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule window must be positive, got %d", r.Window)
	}
	if len(r.Keys) == 0 {
		return fmt.Errorf("rule must have at least one key config")
	}
	for i, kc := range r.Keys {
		switch kc.Type {
		case KeyUser, KeyIP, KeyEndpoint, KeyCustom:
		default:
			return fmt.Errorf("keys[%d]: unknown key type %q", i, kc.Type)
		}
		if kc.Value == "" {
			return fmt.Errorf("keys[%d]: value must not be empty", i)
		}
	}
	for i, th := range r.Thresholds {
		if th < 0 || th > 100 {
			return fmt.Errorf("thresholds[%d]: must be 0–100, got %d", i, th)
		}
	}
	return nil
}

// clone returns a deep copy so cache readers never share mutable state.
func (r *Rule) clone() Rule {
	out := *r
	out.Keys = append([]KeyConfig(nil), r.Keys...)
	out.Thresholds = append([]int(nil), r.Thresholds...)
	return out
}

// newID generates a 32-hex-char rule identity.
func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate rule id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
