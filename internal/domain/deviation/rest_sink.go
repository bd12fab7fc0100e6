package deviation

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// RESTSinkConfig holds the connection settings for the alerting service.
type RESTSinkConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// RESTSink implements AlertSink against the alerting service's REST API.
type RESTSink struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewRESTSink(cfg RESTSinkConfig, logger zerolog.Logger) *RESTSink {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	return &RESTSink{http: httpClient, logger: logger}
}

func (s *RESTSink) AlreadyAlerted(ctx context.Context, kind, sourceID string, includeResolved bool) (bool, error) {
	var result struct {
		Alerted bool `json:"alerted"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"kind":             kind,
			"source_id":        sourceID,
			"include_resolved": strconv.FormatBool(includeResolved),
		}).
		SetResult(&result).
		Get("/alerts/check")
	if err != nil {
		return false, fmt.Errorf("alert check: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("alert check returned %s", resp.Status())
	}
	return result.Alerted, nil
}

func (s *RESTSink) SaveAlert(ctx context.Context, a Alert) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(a).
		SetResult(&result).
		Post("/alerts")
	if err != nil {
		return "", fmt.Errorf("save alert: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("save alert returned %s", resp.Status())
	}
	if result.ID == "" {
		return "", fmt.Errorf("save alert returned no id")
	}
	return result.ID, nil
}

func (s *RESTSink) MarkSent(ctx context.Context, alertID string) error {
	resp, err := s.http.R().
		SetContext(ctx).
		Post("/alerts/" + url.PathEscape(alertID) + "/sent")
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark sent returned %s", resp.Status())
	}
	return nil
}
