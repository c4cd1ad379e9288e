// Package embeddings hosts the hosted-API embedding client behind the
// similarity source. The client is optional; without one the similarity
// source degrades to exact-hash matching.
package embeddings

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultModel = string(openai.SmallEmbedding3)

	// maxTextRunes keeps oversized pastes inside the model's comfort zone.
	maxTextRunes = 4096

	// requestsPerMinute respects the embeddings API rate limits.
	requestsPerMinute = 100
)

// OpenAI turns message text into vectors through the OpenAI embeddings API.
type OpenAI struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	logger  *log.Entry
}

func NewOpenAI(apiKey, model, baseURL string, logger *log.Entry) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(config),
		model:   openai.EmbeddingModel(model),
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1),
		logger:  logger,
	}
}

func (o *OpenAI) Embed(ctx context.Context, msgText string) ([]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, errors.WithMessage(err, "embeddings rate limit")
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{truncateRunes(msgText, maxTextRunes)},
		Model: o.model,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "create embeddings")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embeddings response")
	}
	return resp.Data[0].Embedding, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
