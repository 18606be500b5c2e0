package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lomitrack/lomitrack/internal/pkg/env"
)

// Client talks to the external tracking service that owns the actual
// GPS protocol. Devices registered here must exist remotely first;
// local rows are only created after the remote side confirms.
type Client struct {
	BaseURL  string
	APIToken string

	HTTPClient *http.Client
}

// RemoteDevice is the tracking service's view of a device.
type RemoteDevice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IMEI   string `json:"uniqueId"`
	Status string `json:"status"`
}

// NewClientFromEnv builds a tracking client from the environment.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:  strings.TrimRight(env.GetEnv("TRACKING_BASE_URL", "http://localhost:8082/api"), "/"),
		APIToken: env.GetEnv("TRACKING_API_TOKEN", ""),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateDevice registers the device remotely and returns its
// tracking-service identifier. Callers must not create a local row if
// this fails.
func (c *Client) CreateDevice(ctx context.Context, name, imei string) (*RemoteDevice, error) {
	payload, err := json.Marshal(map[string]string{
		"name":     name,
		"uniqueId": imei,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/devices", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracking create device: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tracking create device failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out RemoteDevice
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("tracking create device response: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("tracking service returned no device id")
	}
	return &out, nil
}

// DeleteDevice removes the device remotely. Callers tolerate failure
// here and soft-delete locally regardless.
func (c *Client) DeleteDevice(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/devices/"+externalID, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracking delete device: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("tracking delete device failed: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}
