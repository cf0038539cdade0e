package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"dapaggregator/internal/aggregation"
	"dapaggregator/internal/auth"
	"dapaggregator/internal/codec"
	"dapaggregator/internal/dap"
	"dapaggregator/internal/task"
)

// HelperClient is the HTTP-based aggregation.HelperClient and
// collect.HelperClient implementation a Leader uses to drive a remote
// Helper over the wire (spec.md §4.4, §4.7). A same-process demo
// deployment can instead call a *aggregation.Helper value's methods
// directly; this type exists so a Leader and Helper can run as two
// separate processes.
type HelperClient struct {
	HTTP   *http.Client
	Tokens auth.TokenProvider
}

// NewHelperClient builds a HelperClient. A nil http.Client falls back to
// http.DefaultClient.
func NewHelperClient(tokens auth.TokenProvider, httpClient *http.Client) *HelperClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HelperClient{HTTP: httpClient, Tokens: tokens}
}

func (c *HelperClient) AggregationJobInit(ctx context.Context, cfg task.Config, req aggregation.AggJobInitReq) (aggregation.AggJobResp, error) {
	var resp aggregation.AggJobResp
	path := fmt.Sprintf("tasks/%s/aggregation_jobs/%s", cfg.ID.Hex(), req.AggJobID.Hex())
	err := c.call(ctx, http.MethodPut, cfg, path, codec.MediaTypeAggregationJobInitReq, req, &resp)
	return resp, err
}

func (c *HelperClient) AggregationJobContinue(ctx context.Context, cfg task.Config, req aggregation.AggJobContinueReq) (aggregation.AggJobResp, error) {
	var resp aggregation.AggJobResp
	path := fmt.Sprintf("tasks/%s/aggregation_jobs/%s", cfg.ID.Hex(), req.AggJobID.Hex())
	err := c.call(ctx, http.MethodPost, cfg, path, codec.MediaTypeAggregationJobContinueReq, req, &resp)
	return resp, err
}

// AggregateShareReq implements collect.HelperClient.
func (c *HelperClient) AggregateShareReq(ctx context.Context, cfg task.Config, sel dap.BatchSelector, aggParam []byte) (dap.AggregateShare, error) {
	var resp dap.AggregateShare
	path := fmt.Sprintf("tasks/%s/aggregate_share", cfg.ID.Hex())
	body := aggregateShareReqBody{Selector: sel, AggParam: aggParam}
	err := c.call(ctx, http.MethodPost, cfg, path, codec.MediaTypeAggregateShareReq, body, &resp)
	return resp, err
}

func (c *HelperClient) call(ctx context.Context, method string, cfg task.Config, path string, reqType codec.MediaType, body, out any) error {
	if cfg.HelperURL == "" {
		return dap.NewFatal("task has no configured helper_url")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return dap.WrapFatal("encoding outbound request", err)
	}

	url := strings.TrimSuffix(cfg.HelperURL, "/") + "/" + cfg.Version.String() + "/" + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return dap.WrapFatal("building outbound request", err)
	}

	contentType, ok := codec.StringForVersion(cfg.Version, reqType)
	if !ok {
		return dap.NewFatal("no content-type defined for this draft/message kind")
	}
	httpReq.Header.Set("Content-Type", contentType)

	token, err := auth.Authorize(ctx, c.Tokens, cfg.ID, reqType)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.String())

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return dap.WrapFatal("calling helper", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var doc problemDocument
		_ = json.NewDecoder(resp.Body).Decode(&doc)
		abortType := dap.AbortType(strings.TrimPrefix(doc.Type, problemTypeBase))
		if abortType == "" {
			return dap.WrapFatal("helper returned an error", fmt.Errorf("status %d", resp.StatusCode))
		}
		return &dap.Abort{Type: abortType, TaskID: &cfg.ID, Detail: doc.Detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dap.WrapFatal("decoding helper response", err)
	}
	return nil
}
