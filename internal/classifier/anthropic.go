package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend asks a Claude model to judge text and images.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

func NewAnthropicBackend(apiKey, baseURL, model string) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-3-haiku-20240307"
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) ScoreText(ctx context.Context, text string) (Verdict, error) {
	return b.judge(ctx, anthropic.NewTextBlock("Classify this page text:\n\n"+text))
}

func (b *AnthropicBackend) ScoreImage(ctx context.Context, image []byte) (Verdict, error) {
	mediaType := http.DetectContentType(image)
	if !strings.HasPrefix(mediaType, "image/") {
		return Verdict{}, fmt.Errorf("anthropic: unsupported media type %q: %w", mediaType, ErrUnavailable)
	}
	return b.judge(ctx,
		anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
		anthropic.NewTextBlock("Classify this image."),
	)
}

func (b *AnthropicBackend) judge(ctx context.Context, blocks ...anthropic.ContentBlockParamUnion) (Verdict, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: 60,
		System:    []anthropic.TextBlockParam{{Text: judgePrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("anthropic classify: %w", err)
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	v, ok := bestLabel(jsonObject(reply.String()))
	if !ok {
		return Verdict{}, fmt.Errorf("anthropic classify: unparseable reply: %w", ErrUnavailable)
	}
	return v, nil
}
