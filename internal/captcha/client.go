// internal/captcha/client.go
package captcha

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to an anti-captcha style token service: createTask submits
// the challenge, getTaskResult is polled until the solution is ready.
type Client struct {
	cfg        config.CaptchaConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a solver client from configuration.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("captcha"),
	}
}

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      captchaTask `json:"task"`
}

type captchaTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	Status    string `json:"status"`
	Solution  struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// Solve submits a reCAPTCHA v2 challenge and blocks until the service
// returns a token, the solve timeout elapses, or ctx is cancelled.
func (c *Client) Solve(ctx context.Context, pageURL, sitekey string) (string, error) {
	taskID, err := c.createTask(ctx, pageURL, sitekey)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Captcha task created", zap.Int64("task_id", taskID), zap.String("sitekey", sitekey))

	timeout := c.cfg.SolveTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return "", scrapererr.Captcha("timed out waiting for captcha solution", pollCtx.Err())
		case <-ticker.C:
			token, ready, err := c.taskResult(pollCtx, taskID)
			if err != nil {
				return "", err
			}
			if ready {
				c.logger.Info("Captcha solved", zap.Int64("task_id", taskID))
				return token, nil
			}
		}
	}
}

func (c *Client) createTask(ctx context.Context, pageURL, sitekey string) (int64, error) {
	req := createTaskRequest{
		ClientKey: c.cfg.APIKey,
		Task: captchaTask{
			Type:       "RecaptchaV2TaskProxyless",
			WebsiteURL: pageURL,
			WebsiteKey: sitekey,
		},
	}

	var resp createTaskResponse
	if err := c.post(ctx, "/createTask", req, &resp); err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, scrapererr.Captcha(
			fmt.Sprintf("createTask rejected: %s (%s)", resp.ErrorCode, resp.ErrorDescription), nil)
	}
	return resp.TaskID, nil
}

// taskResult polls once. ready=false with nil error means keep polling.
func (c *Client) taskResult(ctx context.Context, taskID int64) (token string, ready bool, err error) {
	req := taskResultRequest{ClientKey: c.cfg.APIKey, TaskID: taskID}

	var resp taskResultResponse
	if err := c.post(ctx, "/getTaskResult", req, &resp); err != nil {
		return "", false, err
	}
	if resp.ErrorID != 0 {
		return "", false, scrapererr.Captcha("getTaskResult rejected: "+resp.ErrorCode, nil)
	}
	if resp.Status != "ready" {
		return "", false, nil
	}
	if resp.Solution.GRecaptchaResponse == "" {
		return "", false, scrapererr.Captcha("service reported ready with empty token", nil)
	}
	return resp.Solution.GRecaptchaResponse, true, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return scrapererr.Captcha("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+path, bytes.NewReader(payload))
	if err != nil {
		return scrapererr.Captcha("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return scrapererr.Captcha("solver unreachable", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return scrapererr.Captcha(fmt.Sprintf("solver returned HTTP %d", httpResp.StatusCode), nil)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return scrapererr.Captcha("decode response", err)
	}
	return nil
}
