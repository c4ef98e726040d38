package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ProjectInfo is the account's cloud-code project and subscription tier.
type ProjectInfo struct {
	ProjectID string
	Tier      string
}

// ModelQuota is the remaining share of one model's quota.
type ModelQuota struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	ResetTime  string `json:"reset_time,omitempty"`
}

// QuotaReport is the result of FetchAvailableModels. Forbidden is set when the
// account has no access to the quota API.
type QuotaReport struct {
	ProjectID string       `json:"project_id,omitempty"`
	Tier      string       `json:"tier,omitempty"`
	Forbidden bool         `json:"forbidden"`
	Models    []ModelQuota `json:"models"`
}

// CodeAssist wraps the account-level v1internal calls.
type CodeAssist struct {
	rest    *resty.Client
	baseURL func() string
}

// NewCodeAssist builds a client for the first configured endpoint (the
// account APIs are only served by production).
func NewCodeAssist(c *Client) *CodeAssist {
	rest := resty.New().
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", c.userAgent).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &CodeAssist{
		rest: rest,
		baseURL: func() string {
			if eps := c.endpoints.List(); len(eps) > 0 {
				return eps[0].BaseURL
			}
			return ""
		},
	}
}

// LoadCodeAssist returns the project bound to the access token.
func (ca *CodeAssist) LoadCodeAssist(ctx context.Context, accessToken string) (*ProjectInfo, error) {
	base := ca.baseURL()
	if base == "" {
		return nil, ErrNoEndpoints
	}
	resp, err := ca.rest.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]any{"metadata": map[string]string{"ideType": "ANTIGRAVITY"}}).
		Post(base + pathLoadCodeAssist)
	if err != nil {
		return nil, fmt.Errorf("loadCodeAssist: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, newError(resp.StatusCode(), resp.Body())
	}

	body := resp.Body()
	info := &ProjectInfo{
		ProjectID: projectID(gjson.GetBytes(body, "cloudaicompanionProject")),
		Tier:      gjson.GetBytes(body, "paidTier.id").String(),
	}
	if info.Tier == "" {
		info.Tier = gjson.GetBytes(body, "currentTier.id").String()
	}
	if info.Tier != "" {
		slog.Info("subscription tier identified", "tier", info.Tier)
	}
	return info, nil
}

// cloudaicompanionProject is either a plain id or an object with an id.
func projectID(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("id").String()
	}
	return v.String()
}

// ResolveProject returns the project id for an access token, or an error
// when the upstream did not report one.
func (ca *CodeAssist) ResolveProject(ctx context.Context, accessToken string) (string, error) {
	info, err := ca.LoadCodeAssist(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if info.ProjectID == "" {
		return "", errors.New("loadCodeAssist returned no project")
	}
	return info.ProjectID, nil
}

// FetchAvailableModels reports the remaining quota of the gemini and claude models
// available to the account.
func (ca *CodeAssist) FetchAvailableModels(ctx context.Context, accessToken string) (*QuotaReport, error) {
	report := &QuotaReport{}
	info, err := ca.LoadCodeAssist(ctx, accessToken)
	if err != nil {
		slog.Warn("loadCodeAssist failed, querying quota without project", "error", err)
	} else {
		report.ProjectID = info.ProjectID
		report.Tier = info.Tier
	}

	body := map[string]any{}
	if report.ProjectID != "" {
		body["project"] = report.ProjectID
	}
	resp, err := ca.rest.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(body).
		Post(ca.baseURL() + pathAvailableModels)
	if err != nil {
		return nil, fmt.Errorf("fetchAvailableModels: %w", err)
	}
	if resp.StatusCode() == http.StatusForbidden {
		report.Forbidden = true
		return report, nil
	}
	if !resp.IsSuccess() {
		return nil, newError(resp.StatusCode(), resp.Body())
	}

	gjson.GetBytes(resp.Body(), "models").ForEach(func(name, info gjson.Result) bool {
		n := name.String()
		quota := info.Get("quotaInfo")
		if !quota.Exists() || !(strings.Contains(n, "gemini") || strings.Contains(n, "claude")) {
			return true
		}
		report.Models = append(report.Models, ModelQuota{
			Name:       n,
			Percentage: int(quota.Get("remainingFraction").Float() * 100),
			ResetTime:  quota.Get("resetTime").String(),
		})
		return true
	})
	sort.Slice(report.Models, func(i, j int) bool { return report.Models[i].Name < report.Models[j].Name })
	return report, nil
}
