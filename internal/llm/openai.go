package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const classifySystemPrompt = `You are a bookkeeping assistant that assigns bank transactions to ledger accounts.
Choose account_name ONLY from candidate_accounts, copied exactly; use "" if none fits.
Return ONLY valid JSON with keys: account_name (string), category (string), memo (string, under 100 characters), confidence (integer 0-100).`

// OpenAIClassifier classifies with the chat completions API.
type OpenAIClassifier struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

var ErrOpenAINoAPIKey = fmt.Errorf("openai: api key not configured")

// NewOpenAIClassifier builds a classifier. baseURL may be empty.
func NewOpenAIClassifier(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIClassifier, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrOpenAINoAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model = strings.TrimSpace(model); model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &OpenAIClassifier{client: openai.NewClient(opts...), model: model, timeout: timeout}, nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("openai: encode request: %w", err)
	}
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifySystemPrompt),
			openai.UserMessage("Input JSON:\n" + string(payload)),
		},
	})
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("openai: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ClassifyResponse{}, fmt.Errorf("openai: empty response: %w", ErrMalformedResponse)
	}
	out, err := decodeResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("openai: parse classify: %w", err)
	}
	return out, nil
}
