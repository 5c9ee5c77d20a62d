package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Provider configuration
const (
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderAuto   = "auto"

	LocalModelPrefix = "local-hash-ngram"

	// Dimensions
	LocalDimension = 384

	// Batch limits
	DefaultLocalBatchSize = 512

	// DefaultTimeout bounds one remote embedding call
	DefaultTimeout = 60 * time.Second

	// Remote retry
	DefaultAttempts   = 1
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// remoteClient holds what the HTTP providers share
type remoteClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryConfig
	dimension  atomic.Int64
}

func newRemoteClient(baseURL, model string, timeout time.Duration) (*remoteClient, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("%w: base URL and model are required", ErrNoProviderEnabled)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &remoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		timeout:    timeout,
		retry:      DefaultRetryConfig(),
	}, nil
}

// SetAttempts sets how many times a failed batch call is tried
func (c *remoteClient) SetAttempts(n int) {
	c.retry.Attempts = max(n, 1)
}

// postJSON sends body to endpoint and decodes the JSON answer into out.
// Each call runs under its own timeout.
func (c *remoteClient) postJSON(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// finish validates vectors and wraps them as embeddings
func (c *remoteClient) finish(provider, model string, texts []string, vectors [][]float32) (*BatchEmbeddingResponse, error) {
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(vectors))
	}
	if model == "" {
		model = c.model
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", ErrProviderFailed, i)
		}
		if len(vec) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: embedding %d has size %d, expected %d", ErrProviderFailed, i, len(vec), len(vectors[0]))
		}
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  provider,
			Model:     model,
		}
	}
	c.dimension.Store(int64(len(vectors[0])))

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   provider,
		Model:      model,
	}, nil
}

// OllamaProvider implements Embedder using the Ollama /api/embed endpoint
type OllamaProvider struct {
	*remoteClient
	numGPU int
}

// NewOllamaProvider creates an embedder for an Ollama server
func NewOllamaProvider(baseURL, model string, numGPU int, timeout time.Duration) (*OllamaProvider, error) {
	client, err := newRemoteClient(baseURL, model, timeout)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{remoteClient: client, numGPU: numGPU}, nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Input   []string       `json:"input"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumGPU int `json:"num_gpu"`
}

type ollamaResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, o, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	body := ollamaRequest{Model: o.model, Input: req.Texts}
	if o.numGPU > 0 {
		body.Options = &ollamaOptions{NumGPU: o.numGPU}
	}

	apiResp, err := retryWithBackoff(ctx, o.retry, func() (*ollamaResponse, error) {
		var out ollamaResponse
		if err := o.postJSON(ctx, "/api/embed", nil, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	return o.finish(ProviderOllama, apiResp.Model, req.Texts, apiResp.Embeddings)
}

func (o *OllamaProvider) Dimension() int {
	return int(o.dimension.Load())
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// OpenAICompatProvider implements Embedder for servers speaking the
// OpenAI /v1/embeddings protocol (OpenAI, llama.cpp, vLLM, LocalAI).
type OpenAICompatProvider struct {
	*remoteClient
	apiKey string
}

// NewOpenAICompatProvider creates an embedder for an OpenAI-compatible server
func NewOpenAICompatProvider(baseURL, model, apiKey string, timeout time.Duration) (*OpenAICompatProvider, error) {
	client, err := newRemoteClient(baseURL, model, timeout)
	if err != nil {
		return nil, err
	}
	return &OpenAICompatProvider{remoteClient: client, apiKey: apiKey}, nil
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (o *OpenAICompatProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, o, req)
}

func (o *OpenAICompatProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	var headers map[string]string
	if o.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + o.apiKey}
	}

	apiResp, err := retryWithBackoff(ctx, o.retry, func() (*openAIResponse, error) {
		var out openAIResponse
		if err := o.postJSON(ctx, "/v1/embeddings", headers, openAIRequest{Model: o.model, Input: req.Texts}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	data := apiResp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}

	return o.finish(ProviderOpenAI, apiResp.Model, req.Texts, vectors)
}

func (o *OpenAICompatProvider) Dimension() int {
	return int(o.dimension.Load())
}

func (o *OpenAICompatProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAICompatProvider) Model() string {
	return o.model
}

func (o *OpenAICompatProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
