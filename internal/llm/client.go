// Package llm generates video titles, summaries, and thumbnails through an
// OpenAI-compatible API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"vidtube/internal/retry"
)

const titleSystemPrompt = `Your task is to generate an SEO-focused title for a YouTube video based on its transcript. Please follow these guidelines:
- Be concise but descriptive, using relevant keywords to improve discoverability.
- Highlight the most compelling or unique aspect of the video content.
- Avoid jargon or overly complex language unless it directly supports searchability.
- Use action-oriented phrasing or clear value propositions where applicable.
- Ensure the title is 3-8 words long and no more than 100 characters.
- ONLY return the title as plain text. Do not add quotes or any additional formatting.`

const descriptionSystemPrompt = `Your task is to summarize the transcript of a video. Please follow these guidelines:
- Be brief. Condense the content into a summary that captures the key points and main ideas without losing important details.
- Avoid jargon or overly complex language unless necessary for the context.
- Focus on the most critical information, ignoring filler, repetitive statements, or irrelevant tangents.
- ONLY return the summary, no other text, annotations, or comments.
- Aim for a summary that is 3-5 sentences long and no more than 200 characters.`

var ErrNotConfigured = errors.New("llm api key is not configured")

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	// RequestsPerSecond throttles outbound calls; zero means unthrottled.
	RequestsPerSecond float64
	Retry             retry.Config
}

type Client struct {
	api        *openai.Client
	model      string
	imageModel string
	limiter    *rate.Limiter
	retry      retry.Config
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	var api *openai.Client
	if cfg.APIKey != "" {
		apiCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
		api = openai.NewClientWithConfig(apiCfg)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = openai.CreateImageModelDallE3
	}
	return &Client{
		api:        api,
		model:      model,
		imageModel: imageModel,
		limiter:    limiter,
		retry:      cfg.Retry,
		logger:     slog.Default().With("component", "llm"),
	}
}

// GenerateTitle returns a title for the transcript. A blank result is not an
// error; callers decide whether to keep the previous title.
func (c *Client) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, titleSystemPrompt, transcript)
}

// GenerateDescription returns a short summary of the transcript.
func (c *Client) GenerateDescription(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, descriptionSystemPrompt, transcript)
}

// GenerateImage returns a temporary URL of a landscape image for prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if c.api == nil {
		return "", retry.Fatal(ErrNotConfigured)
	}
	var url string
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          c.imageModel,
			N:              1,
			Size:           openai.CreateImageSize1792x1024,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return classify("create image", err)
		}
		if len(resp.Data) == 0 || resp.Data[0].URL == "" {
			return retry.Fatal(errors.New("create image: empty response"))
		}
		url = resp.Data[0].URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.api == nil {
		return "", retry.Fatal(ErrNotConfigured)
	}
	var content string
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			c.logger.Debug("chat completion failed", "model", c.model, "error", err)
			return classify("chat completion", err)
		}
		if len(resp.Choices) == 0 {
			content = ""
			return nil
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// classify maps go-openai errors onto retry classes. Errors without a status
// are network failures and retried.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retry.ClassifyStatus(apiErr.HTTPStatusCode, wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retry.ClassifyStatus(reqErr.HTTPStatusCode, wrapped)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	return retry.Transient(wrapped)
}
