// Package llm performs the Rewrite stage's HTTP call to an OpenAI-compatible
// chat completions endpoint, reproducing original_source/llm.rs's request
// shape (system + user message, temperature 0.2) but via the
// github.com/openai/openai-go/v2 client instead of a hand-rolled reqwest
// call, grounded on hubenschmidt-asr-llm-tts's use of the same client.
//
// API-key resolution is environment-variable-only: original_source/llm.rs
// falls back to the OS keyring crate, but no keyring library appears
// anywhere in the reference pack, so that fallback is a deliberate,
// documented scope reduction (see DESIGN.md).
package llm

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"typevoice/internal/corerr"
)

const apiKeyEnvVar = "TYPEVOICE_LLM_API_KEY"

// Config is the resolved rewrite endpoint target.
type Config struct {
	BaseURL string
	Model   string
}

// LoadAPIKey resolves the API key from the environment only.
func LoadAPIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(apiKeyEnvVar))
	if key == "" {
		return "", corerr.New("E_LLM_API_KEY_MISSING", apiKeyEnvVar+" is not set")
	}
	return key, nil
}

// Client wraps the OpenAI-compatible client for the Rewrite stage.
type Client struct {
	cfg Config
	key string
}

// New builds a rewrite client bound to cfg with an already-resolved key.
func New(cfg Config, apiKey string) *Client {
	return &Client{cfg: cfg, key: apiKey}
}

// Rewrite sends one chat completion request with systemPrompt and userText,
// returning the trimmed assistant content. An HTTP failure or an empty
// response is reported with a stable error code; the caller (the pipeline's
// Rewrite stage) treats this as non-fatal and falls back to ASR-only text
// (P8), never aborting the task over a rewrite failure.
func (c *Client) Rewrite(ctx context.Context, systemPrompt, userText string) (string, error) {
	client := openai.NewClient(
		option.WithAPIKey(c.key),
		option.WithBaseURL(c.cfg.BaseURL),
	)

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", corerr.Wrap(httpErrorCode(err), "llm http request failed", err)
	}

	if len(completion.Choices) == 0 {
		return "", corerr.New("E_LLM_EMPTY_CHOICES", "llm missing choices[0]")
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", corerr.New("E_LLM_EMPTY_CONTENT", "llm returned empty content")
	}
	return content, nil
}

// httpErrorCode maps an OpenAI SDK error to an HTTP_<status>-style code
// when a status is available, per spec.md §7's HTTP_<status> code family,
// else a generic transport failure code.
func httpErrorCode(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return "HTTP_" + strconv.Itoa(apiErr.StatusCode)
	}
	return "E_LLM_HTTP_FAILED"
}

// LoadConfigFromEnv mirrors original_source/llm.rs's load_config_from_env.
func LoadConfigFromEnv() Config {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("TYPEVOICE_LLM_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(os.Getenv("TYPEVOICE_LLM_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return Config{BaseURL: baseURL, Model: model}
}
