package gateway

import (
	"context"
	"net/http"
)

// customerHeader is the trusted identity header backends read. The edge never
// forwards a caller-supplied value; it only sets one it resolved itself.
const customerHeader = "X-Customer-ID"

// forwardedHeaders are the request headers passed through to backends.
var forwardedHeaders = []string{"Content-Type", "X-Request-ID"}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest replays r against path on the backend, keeping the query
// string. Gateway notifications carry their ids there. customerID, when not
// empty, is sent as the authenticated customer.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path, customerID string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedHeaders {
		if value := r.Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}
	if customerID != "" {
		req.Header.Set(customerHeader, customerID)
	}

	return p.client.Do(req)
}
