package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentityClient_Authenticate(t *testing.T) {
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identity" {
			t.Errorf("expected /identity, got %s", r.URL.Path)
		}
		switch r.Header.Get("Authorization") {
		case "Bearer alice-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"customer_id":"alice"}`))
		case "Bearer anonymous":
			_, _ = w.Write([]byte(`{"customer_id":""}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer identity.Close()

	client := NewIdentityClient(identity.URL, identity.Client())

	tests := []struct {
		name       string
		credential string
		want       string
		wantErr    error
		anyErr     bool
	}{
		{name: "resolves a valid credential", credential: "Bearer alice-token", want: "alice"},
		{name: "rejects a missing credential", credential: "", wantErr: ErrUnauthenticated},
		{name: "rejects an unknown credential", credential: "Bearer forged", wantErr: ErrUnauthenticated},
		{name: "rejects an empty customer id", credential: "Bearer anonymous", wantErr: ErrUnauthenticated},
		{name: "surfaces identity service failures", credential: "Bearer broken", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.credential != "" {
				req.Header.Set("Authorization", tt.credential)
			}
			req.Header.Set("X-Customer-ID", "victim-customer")

			got, err := client.Authenticate(context.Background(), req)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil || errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("expected a service error, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("expected %q, got %q", tt.want, got)
				}
			}
		})
	}
}
