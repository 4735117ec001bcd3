package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the customer behind an inbound request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (string, error)
}

// IdentityClient asks the identity collaborator who owns the caller's
// bearer credential.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

func NewIdentityClient(baseURL string, client *http.Client) *IdentityClient {
	return &IdentityClient{baseURL: baseURL, client: client}
}

type identityResponse struct {
	CustomerID string `json:"customer_id"`
}

func (c *IdentityClient) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	credential := r.Header.Get("Authorization")
	if credential == "" {
		return "", ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/identity", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity lookup: unexpected status %d", resp.StatusCode)
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("identity lookup: decode: %w", err)
	}
	if body.CustomerID == "" {
		return "", ErrUnauthenticated
	}
	return body.CustomerID, nil
}
