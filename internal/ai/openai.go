package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const estimatorSystemPrompt = "You are an expert construction estimator AI assistant. Answer based on the provided context."

// OpenAIInvoker calls the OpenAI API directly, skipping the Python
// pipeline. It builds the same prompt the pipeline script builds: the
// stored document summary when one exists, raw page text otherwise.
type OpenAIInvoker struct {
	client openai.Client
	model  string
}

func NewOpenAIInvoker(apiKey, model string) *OpenAIInvoker {
	return &OpenAIInvoker{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, prompt, contextFile string) (Result, error) {
	contextText, err := loadContext(contextFile)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(estimatorSystemPrompt),
			openai.UserMessage(prompt + "\n\n" + contextText),
		},
		MaxTokens:   openai.Int(512),
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty completion", ErrInvocationFailed)
	}
	return Result{Content: completion.Choices[0].Message.Content}, nil
}

// loadContext reads the downloaded response document and reduces it to
// the context string the model sees.
func loadContext(contextFile string) (string, error) {
	data, err := os.ReadFile(contextFile)
	if err != nil {
		return "", fmt.Errorf("read context file: %w", err)
	}
	var payload struct {
		Summary  string `json:"summary"`
		PageText string `json:"pageText"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse context file: %w", err)
	}
	if payload.Summary != "" {
		return "Summary: " + payload.Summary, nil
	}
	return "Page text: " + payload.PageText, nil
}
