package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Paths used to identify a session. The drive probe selects only what the
// session reports so it stays cheap enough to run every probe interval.
const (
	mePath      = "/me?$select=id,displayName,mail,userPrincipalName"
	myDrivePath = "/me/drive?$select=id,driveType,quota"
)

type meResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	UPN         string `json:"userPrincipalName"` // mail is often empty on personal accounts
}

type myDriveResponse struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
	Quota     *struct {
		Used  int64 `json:"used"`
		Total int64 `json:"total"`
	} `json:"quota"`
}

// getJSON issues a GET and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, path, what string, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("graph: decoding %s response: %w", what, err)
	}

	return nil
}

// Me returns the signed-in account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var r meResponse
	if err := c.getJSON(ctx, mePath, "user", &r); err != nil {
		return nil, err
	}

	u := &User{ID: r.ID, DisplayName: r.DisplayName, Email: r.Mail}
	if u.Email == "" {
		u.Email = r.UPN
	}

	c.logger.Debug("fetched account", slog.String("id", u.ID))

	return u, nil
}

// MyDrive returns the account's default drive. It is the cheapest
// authenticated call and doubles as the session's liveness probe.
func (c *Client) MyDrive(ctx context.Context) (*Drive, error) {
	var r myDriveResponse
	if err := c.getJSON(ctx, myDrivePath, "drive", &r); err != nil {
		return nil, err
	}

	d := &Drive{ID: r.ID, DriveType: r.DriveType}
	if r.Quota != nil {
		d.QuotaUsed, d.QuotaTotal = r.Quota.Used, r.Quota.Total
	}

	return d, nil
}
