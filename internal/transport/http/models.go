// Package httptransport is the thin JSON REST layer over the service
// boundary. Schema validation beyond field presence lives in the core.
package httptransport

import (
	"time"

	"github.com/PrakarshSingh5/Rate-limiter-service/internal/gate"
	"github.com/PrakarshSingh5/Rate-limiter-service/internal/limiter"
)

type checkRequest struct {
	Key       string `json:"key"`
	Endpoint  string `json:"endpoint,omitempty"`
	RuleID    string `json:"ruleId,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Limit     int64  `json:"limit,omitempty"`
	Window    int64  `json:"window,omitempty"`
}

type checkResponse struct {
	Allowed      bool   `json:"allowed"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
	ResetAt      string `json:"resetAt"`
	RetryAfter   int64  `json:"retryAfter,omitempty"` // seconds, denied only
	CurrentUsage int64  `json:"currentUsage"`

	// FailedOpen marks a response allowed only because the store was
	// unreachable and FAIL_OPEN is set.
	FailedOpen bool `json:"failedOpen,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func toCheckResponse(res *limiter.Result) checkResponse {
	return checkResponse{
		Allowed:      res.Allowed,
		Limit:        res.Limit,
		Remaining:    res.Remaining,
		ResetAt:      res.ResetAt.UTC().Format(time.RFC3339),
		RetryAfter:   int64(res.RetryAfter / time.Second),
		CurrentUsage: res.CurrentUsage,
	}
}

func toGateRequest(req checkRequest) gate.CheckRequest {
	return gate.CheckRequest{
		Key:       req.Key,
		Endpoint:  req.Endpoint,
		RuleID:    req.RuleID,
		Algorithm: req.Algorithm,
		Limit:     req.Limit,
		Window:    req.Window,
	}
}

// statusFor maps boundary error codes onto HTTP statuses.
func statusFor(code gate.Code) int {
	switch code {
	case gate.CodeValidation:
		return 400
	case gate.CodeRuleNotFound, gate.CodeNoMatchingRule:
		return 404
	case gate.CodeRuleDisabled:
		return 409
	case gate.CodeStoreUnavailable:
		return 503
	default:
		return 500
	}
}
