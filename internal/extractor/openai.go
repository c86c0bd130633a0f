package extractor

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/logger"
)

// OpenAI calls an OpenAI-compatible chat completion API in JSON mode.
type OpenAI struct {
	client *openai.Client
	model  string
	Vocab  Normalizer
	log    *logger.Logger
}

func NewOpenAI(apiKey, baseURL, model string, log *logger.Logger) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		log:    log,
	}
}

func (o *OpenAI) Analyze(ctx context.Context, transcript string) (*Analysis, error) {
	request := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(transcript, o.Vocab)},
		},
	}
	response, err := o.client.CreateChatCompletion(ctx, request)
	if err != nil {
		o.log.WithError(err).WithField("model", o.model).Warn("LLM API call failed")
		return nil, apperr.Upstream(err, "error querying LLM API")
	}
	if len(response.Choices) == 0 {
		return nil, apperr.Upstream(errors.New("no choices in response"), "llm")
	}
	a, err := decodeAnalysis(response.Choices[0].Message.Content)
	if err != nil {
		return nil, apperr.Upstream(err, "llm")
	}
	a.Model = response.Model
	if a.Model == "" {
		a.Model = o.model
	}
	o.log.WithField("tokens", response.Usage.TotalTokens).Debug("llm analysis parsed")
	return a, nil
}
