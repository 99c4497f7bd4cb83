// Package recordstore reads sites, patients, status snapshots and activities from the
// clinic record service over HTTP.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
)

// Config configures the HTTP record store client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
}

// envelope is the list payload returned by every read endpoint.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client is a read-only client for the record service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New builds a Client. Retries apply to transport errors and 5xx responses.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Client{http: client, logger: logger}
}

// ListSites returns the site directory in service order.
func (c *Client) ListSites(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	if err := c.list(ctx, "/sites", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// ListPatients returns every patient.
func (c *Client) ListPatients(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	if err := c.list(ctx, "/patients", &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// ListSnapshotsForPatient returns a patient's status snapshots in creation order.
func (c *Client) ListSnapshotsForPatient(ctx context.Context, patientID string) ([]models.StatusSnapshot, error) {
	var snapshots []models.StatusSnapshot
	path := "/patients/" + url.PathEscape(patientID) + "/snapshots"
	if err := c.list(ctx, path, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// ListActivitiesForPatient returns a patient's activities.
func (c *Client) ListActivitiesForPatient(ctx context.Context, patientID string) ([]models.Activity, error) {
	var activities []models.Activity
	path := "/patients/" + url.PathEscape(patientID) + "/activities"
	if err := c.list(ctx, path, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// ListAllActivities returns every activity in one call.
func (c *Client) ListAllActivities(ctx context.Context) ([]models.Activity, error) {
	var activities []models.Activity
	if err := c.list(ctx, "/activities", &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

func (c *Client) list(ctx context.Context, path string, dest interface{}) error {
	var body envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get(path)
	if err != nil {
		c.logger.Warn("record store request failed", zap.String("path", path), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
	}
	if resp.IsError() {
		msg := resp.Status()
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		c.logger.Warn("record store returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("message", msg),
		)
		cause := fmt.Errorf("GET %s: %d %s", path, resp.StatusCode(), msg)
		if resp.StatusCode() == http.StatusNotFound {
			return appErrors.Wrap(cause, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, appErrors.ErrNotFound.Message)
		}
		return appErrors.Wrap(cause, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(body.Data, dest); err != nil {
		return appErrors.Wrap(fmt.Errorf("decode %s: %w", path, err), appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
	}
	return nil
}
