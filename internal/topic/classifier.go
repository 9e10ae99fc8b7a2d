package topic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nocnoc-data/predize-sync/internal/resilience"
)

// Classifier feeds message texts through the pretrained topic model. The
// model artifact is an external collaborator: this pipeline never trains or
// updates it, it only calls transform.
type Classifier interface {
	Transform(ctx context.Context, texts []string) ([]Prediction, error)
}

// transformRequest is the body for POST /transform on the model server.
type transformRequest struct {
	Texts []string `json:"texts"`
}

// transformResponse is the model server's answer: one topic number and one
// probability distribution per input text, positionally aligned.
type transformResponse struct {
	Topics        []int       `json:"topics"`
	Probabilities [][]float64 `json:"probabilities"`
}

// ModelOption configures the model client.
type ModelOption func(*modelClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) ModelOption {
	return func(c *modelClient) {
		c.http = hc
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) ModelOption {
	return func(c *modelClient) {
		c.retry = cfg
	}
}

// modelClient implements Classifier against the model server that hosts the
// pretrained artifact.
type modelClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewModelClient creates a Classifier backed by the model server at baseURL.
func NewModelClient(baseURL string, opts ...ModelOption) Classifier {
	c := &modelClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *modelClient) Transform(ctx context.Context, texts []string) ([]Prediction, error) {
	if len(texts) == 0 {
		return []Prediction{}, nil
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*transformResponse, error) {
		return c.post(ctx, transformRequest{Texts: texts})
	})
	if err != nil {
		return nil, eris.Wrap(err, "topic: transform")
	}

	if len(resp.Topics) != len(texts) {
		return nil, eris.Errorf("topic: model returned %d topics for %d texts", len(resp.Topics), len(texts))
	}

	preds := make([]Prediction, len(resp.Topics))
	for i, topic := range resp.Topics {
		p := Prediction{Topic: topic}
		if i < len(resp.Probabilities) {
			p.Probability = maxProb(resp.Probabilities[i])
		}
		preds[i] = p
	}
	return preds, nil
}

func (c *modelClient) post(ctx context.Context, body transformRequest) (*transformResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transform", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("topic: model server HTTP %d: %s", resp.StatusCode, string(data))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out transformResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	return &out, nil
}

func maxProb(dist []float64) float64 {
	best := 0.0
	for _, p := range dist {
		if p > best {
			best = p
		}
	}
	return best
}
