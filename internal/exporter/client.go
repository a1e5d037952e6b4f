// Package exporter pushes recorded runs to an external findings aggregation
// service. It is a thin adapter over the core's record result; nothing here
// participates in normalization or identity.
package exporter

import (
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/scantrail/scantrail/pkg/findings"
	"github.com/scantrail/scantrail/pkg/runs"
	"github.com/scantrail/scantrail/pkg/shared/config"
)

// Client talks to the aggregation service's import API.
type Client struct {
	httpc *resty.Client
	url   string
}

// New creates a Client for the given base URL with token auth.
func New(cfg *config.Config, url, token string) Client {
	httpc := resty.New()
	httpc.SetBaseURL(url)
	httpc.SetHeader("Authorization", fmt.Sprintf("Token %s", token))
	httpc.SetTimeout(cfg.HTTPClient.Timeout)
	httpc.SetRetryCount(cfg.HTTPClient.RetryCount)
	httpc.SetRetryWaitTime(cfg.HTTPClient.RetryWaitTime)
	httpc.SetRetryMaxWaitTime(cfg.HTTPClient.RetryMaxWaitTime)

	return Client{
		httpc: httpc,
		url:   url,
	}
}

type importRunRequest struct {
	Run      *runs.DiagnosticRun           `json:"run"`
	Findings []*findings.NormalizedFinding `json:"findings"`
}

type importRunResponse struct {
	ID int `json:"id"`
}

// ExportRun posts a run and its findings to the service. The raw report
// payload is stripped first; the import API wants the normalized record only.
func (c Client) ExportRun(run *runs.DiagnosticRun, batch []*findings.NormalizedFinding) (int, error) {
	trimmed := *run
	trimmed.RawReport = nil

	var r importRunResponse
	resp, err := c.httpc.R().
		SetBody(importRunRequest{Run: &trimmed, Findings: batch}).
		SetResult(&r).
		Post("/api/v2/runs/import/")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("%d on importing run %s", resp.StatusCode(), run.RunID)
	}
	return r.ID, nil
}
