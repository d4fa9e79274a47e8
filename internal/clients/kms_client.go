package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bridge-relayer/internal/config"
)

// KMSClient KMS service client
type KMSClient struct {
	baseURL     string
	authToken   string
	serviceName string
	httpClient  *http.Client
}

// KMSSignRequest digest signing request
type KMSSignRequest struct {
	KeyAlias string `json:"key_alias"`
	ChainID  uint64 `json:"chain_id"`
	Data     string `json:"data"` // 32-byte digest, hex
}

// KMSSignResponse 65-byte [R || S || V] signature, hex
type KMSSignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewKMSClient creates a KMS client
func NewKMSClient(cfg config.KMSConfig) *KMSClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &KMSClient{
		baseURL:     cfg.BaseURL,
		authToken:   cfg.AuthToken,
		serviceName: cfg.ServiceName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Sign asks the KMS to sign a digest with the key under keyAlias.
func (c *KMSClient) Sign(ctx context.Context, keyAlias string, chainID uint64, digestHex string) (*KMSSignResponse, error) {
	req := KMSSignRequest{
		KeyAlias: keyAlias,
		ChainID:  chainID,
		Data:     digestHex,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/api/v1/sign", req)
	if err != nil {
		return nil, fmt.Errorf("KMS sign request failed: %w", err)
	}

	var signResp KMSSignResponse
	if err := json.Unmarshal(response, &signResp); err != nil {
		return nil, fmt.Errorf("failed to parse KMS response: %w", err)
	}
	if !signResp.Success {
		return nil, fmt.Errorf("KMS signing failed: %s", signResp.Error)
	}
	return &signResp, nil
}

// HealthCheck KMS service check
func (c *KMSClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("KMS health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse KMS health response: %w", err)
	}
	if healthResp.Status != "healthy" {
		return fmt.Errorf("KMS service status: %s", healthResp.Status)
	}
	return nil
}

func (c *KMSClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bridge-relayer/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", c.serviceName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP request failed: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}
	return responseBody, nil
}
