package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOllamaURL is the local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"
	ollamaTimeout    = 120 * time.Second
	emptyResponse    = "応答なし"
)

// ServiceError is a non-2xx answer from the inference service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("Ollama APIエラー (ステータス: %d)", e.StatusCode)
}

// TransportError wraps a failure to reach the service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Ollama API例外: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// OllamaClient calls the Ollama generate endpoint without streaming.
type OllamaClient struct {
	BaseURL string
	client  *http.Client
}

// NewOllamaClient creates a client for baseURL, or DefaultOllamaURL when empty.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: ollamaTimeout},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Generate implements Generator.
func (c *OllamaClient) Generate(ctx context.Context, req *Request) (string, error) {
	withImage, err := checkImage(req)
	if err != nil {
		return "", err
	}
	if len(req.Image) > 0 && !withImage {
		log.Printf("[Ollama] %s does not take images, sending text only", req.Model)
	}

	body := generateRequest{
		Model:  req.Model.ServiceID(),
		Prompt: req.FullPrompt(),
	}
	if withImage {
		body.Images = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}

	out, err := c.generate(ctx, body)
	if err != nil {
		return "", err
	}
	if out.Response == nil {
		return emptyResponse, nil
	}
	return CleanResponse(*out.Response), nil
}

// Ping implements Generator with a minimal "test" prompt.
func (c *OllamaClient) Ping(ctx context.Context, m Model) error {
	_, err := c.generate(ctx, generateRequest{Model: m.ServiceID(), Prompt: "test"})
	return err
}

func (c *OllamaClient) generate(ctx context.Context, body generateRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return &out, nil
}

var _ Generator = (*OllamaClient)(nil)
