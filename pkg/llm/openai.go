package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient generates replies through an OpenAI-compatible chat
// completions endpoint. Models maps each variant to a chat model name;
// unset variants use their ServiceID.
type OpenAIClient struct {
	Models map[Model]string

	client *openai.Client
}

// NewOpenAIClient creates a client. Empty apiKey falls back to
// OPENAI_API_KEY; baseURL may point at any compatible server.
func NewOpenAIClient(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: ollamaTimeout}),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	client := openai.NewClient(reqOpts...)
	return &OpenAIClient{
		Models: map[Model]string{},
		client: &client,
	}
}

func (c *OpenAIClient) modelName(m Model) string {
	if name, ok := c.Models[m]; ok && name != "" {
		return name
	}
	return m.ServiceID()
}

// Generate implements Generator.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (string, error) {
	withImage, err := checkImage(req)
	if err != nil {
		return "", err
	}

	var user openai.ChatCompletionMessageParamUnion
	if withImage {
		dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(req.Image), base64.StdEncoding.EncodeToString(req.Image))
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.FullPrompt()),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		})
	} else {
		user = openai.UserMessage(req.FullPrompt())
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{user},
		Model:    shared.ChatModel(c.modelName(req.Model)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return emptyResponse, nil
	}
	return CleanResponse(completion.Choices[0].Message.Content), nil
}

// Ping implements Generator.
func (c *OpenAIClient) Ping(ctx context.Context, m Model) error {
	_, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("test")},
		Model:    shared.ChatModel(c.modelName(m)),
	})
	return err
}

var _ Generator = (*OpenAIClient)(nil)
