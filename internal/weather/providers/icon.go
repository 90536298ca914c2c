package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxIconBytes = 1 << 20

// IconClient downloads condition icons referenced by provider readings.
type IconClient struct {
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewIconClient(client *http.Client, logger *zap.Logger) *IconClient {
	cfg := defaultHTTPConfig(client)
	cfg.Backoff.MaxRetries = 1
	return &IconClient{
		httpCfg: cfg,
		circuit: newBreaker("icons", orNop(logger)),
	}
}

// FetchIcon returns the image bytes and their content type.
func (c *IconClient) FetchIcon(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	})
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxIconBytes {
		return nil, "", fmt.Errorf("icon %s exceeds %d bytes", url, maxIconBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
