package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Installation is one heat-pump installation visible to the account.
type Installation struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PID        string    `json:"pid"`
	MACAddress string    `json:"macAddress"`
	IsOnline   bool      `json:"isOnline"`
	Owner      *Owner    `json:"owner"`
	Profile    *Profile  `json:"profile"`
	Firmware   *Firmware `json:"firmware"`
}

// Owner is the account holder attached to an installation.
type Owner struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Profile describes the device model family. Profile id 34 is the WWK
// hot-water heat pump the register catalog covers.
type Profile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Firmware carries the installed firmware version.
type Firmware struct {
	FirmwareVersion string `json:"firmwareVersion"`
}

// InstallationID is the string form used by the realtime protocol.
func (i Installation) InstallationID() string {
	return strconv.FormatInt(i.ID, 10)
}

type installationsRequest struct {
	IncludeWithPendingUserAccesses bool `json:"includeWithPendingUserAccesses"`
}

type installationsResponse struct {
	Items []Installation `json:"items"`
}

// Installations lists the installations owned by the authenticated account,
// refreshing the token first if needed.
func (m *Manager) Installations(ctx context.Context) ([]Installation, error) {
	if err := m.EnsureValid(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(installationsRequest{IncludeWithPendingUserAccesses: true})
	if err != nil {
		return nil, fmt.Errorf("auth: encode installations request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serviceBase+"/api/v1/InstallationsInfo/own", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("auth: build installations request: %w", err)
	}
	setAppHeaders(req.Header)
	req.Header.Set("Authorization", "Bearer "+m.Token())

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: installations request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("auth: installations returned status %d", resp.StatusCode)
	}

	var ir installationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("auth: decode installations response: %w", err)
	}
	return ir.Items, nil
}
