package checkout

import (
	"fmt"
	"net/url"
	"strings"

	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
)

// CallbackViolationDetail exposes which redirect URL was refused and why.
type CallbackViolationDetail struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// CallbackURLs are the redirect targets handed to the hosted checkout page.
type CallbackURLs struct {
	SuccessURL string
	CancelURL  string
}

// HostAllowList matches callback hosts case-insensitively. Ports are ignored.
type HostAllowList struct {
	hosts map[string]struct{}
}

func NewHostAllowList(hosts []string) HostAllowList {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		set[h] = struct{}{}
	}
	return HostAllowList{hosts: set}
}

func (l HostAllowList) Allows(host string) bool {
	_, ok := l.hosts[strings.ToLower(host)]
	return ok
}

// ValidateCallbackURLs rejects anything that is not an absolute https URL on an allowed host.
func ValidateCallbackURLs(allow HostAllowList, urls CallbackURLs) error {
	var violations []CallbackViolationDetail
	check := func(field, raw string) {
		if reason := callbackViolation(allow, raw); reason != "" {
			violations = append(violations, CallbackViolationDetail{Field: field, Reason: reason})
		}
	}
	check("successUrl", urls.SuccessURL)
	check("cancelUrl", urls.CancelURL)

	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid checkout callback url for %d field(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

func callbackViolation(allow HostAllowList, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "required"
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "malformed"
	}
	if parsed.Scheme != "https" {
		return "https_required"
	}
	if parsed.User != nil {
		return "credentials_not_allowed"
	}
	if !allow.Allows(parsed.Hostname()) {
		return "host_not_allowed"
	}
	return ""
}
