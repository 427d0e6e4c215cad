package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/config"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
)

// ErrEmbeddingUnavailable wraps every provider-side failure of the
// embedding gateway.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Client wraps the Azure OpenAI embeddings deployment. Stateless;
// pure request/response.
type Client struct {
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.EmbeddingConfig, logger *zap.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		deployment: cfg.Deployment,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cb:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger: logger,
	}
}

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text. Empty text is
// embedded as-is; the provider decides what that means.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	err := c.cb.Execute(func() error {
		start := time.Now()

		body, err := json.Marshal(embedRequest{Input: []string{text}})
		if err != nil {
			return err
		}

		url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			c.endpoint, c.deployment, c.apiVersion)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordEmbeddingCallLatency("error", latency)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordEmbeddingCallLatency(fmt.Sprintf("%d", resp.StatusCode), latency)
			return fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
		}

		var decoded embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			metrics.RecordEmbeddingCallLatency("decode_error", latency)
			return fmt.Errorf("decode embedding response: %w", err)
		}
		if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
			metrics.RecordEmbeddingCallLatency("empty", latency)
			return fmt.Errorf("embedding response contains no vector")
		}

		metrics.RecordEmbeddingCallLatency("success", latency)
		vector = decoded.Data[0].Embedding
		return nil
	})

	if err != nil {
		c.logger.Error("Embedding call failed",
			zap.String("deployment", c.deployment),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	return vector, nil
}
