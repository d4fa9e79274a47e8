package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bridge-relayer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKMSClientSign(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sign", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "bridge-relayer", r.Header.Get("X-Service-Name"))

		var req KMSSignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "relayer-key", req.KeyAlias)
		assert.Equal(t, uint64(421614), req.ChainID)

		_ = json.NewEncoder(w).Encode(KMSSignResponse{Success: true, Signature: "0xabcd"})
	}))
	defer server.Close()

	client := NewKMSClient(config.KMSConfig{BaseURL: server.URL, AuthToken: "token-1", ServiceName: "bridge-relayer"})
	resp, err := client.Sign(context.Background(), "relayer-key", 421614, "0x00")
	require.NoError(t, err)
	assert.Equal(t, "0xabcd", resp.Signature)
}

func TestKMSClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sign":
			_ = json.NewEncoder(w).Encode(KMSSignResponse{Success: false, Error: "key locked"})
		case "/api/v1/health":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := NewKMSClient(config.KMSConfig{BaseURL: server.URL})
	_, err := client.Sign(context.Background(), "k", 1, "0x00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key locked")

	err = client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}
