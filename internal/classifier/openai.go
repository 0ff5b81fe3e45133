package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend scores text with the moderation endpoint and images with a
// vision chat model.
type OpenAIBackend struct {
	client      *openai.Client
	visionModel string
}

// NewOpenAIBackend creates the backend. baseURL is optional.
func NewOpenAIBackend(apiKey, baseURL, visionModel string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if visionModel == "" {
		visionModel = openai.GPT4oMini
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		visionModel: visionModel,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) ScoreText(ctx context.Context, text string) (Verdict, error) {
	resp, err := b.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: openai.ModerationTextLatest,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, fmt.Errorf("openai moderation: empty result: %w", ErrUnavailable)
	}
	return moderationVerdict(resp.Results[0].CategoryScores), nil
}

// moderationVerdict reduces the category scores to the strongest one.
func moderationVerdict(s openai.ResultCategoryScores) Verdict {
	scores := []struct {
		label string
		score float32
	}{
		{"sexual", s.Sexual},
		{"sexual/minors", s.SexualMinors},
		{"violence", s.Violence},
		{"violence/graphic", s.ViolenceGraphic},
		{"self-harm", s.SelfHarm},
		{"self-harm/intent", s.SelfHarmIntent},
		{"self-harm/instructions", s.SelfHarmInstructions},
		{"hate", s.Hate},
		{"hate/threatening", s.HateThreatening},
		{"harassment", s.Harassment},
		{"harassment/threatening", s.HarassmentThreatening},
	}
	best := Verdict{Label: "safe"}
	for _, c := range scores {
		if float64(c.score) > best.Score {
			best = Verdict{Label: c.label, Score: float64(c.score)}
		}
	}
	return best
}

func (b *OpenAIBackend) ScoreImage(ctx context.Context, image []byte) (Verdict, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(image), base64.StdEncoding.EncodeToString(image))

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgePrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Classify this image."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      60,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai vision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("openai vision: no choices: %w", ErrUnavailable)
	}
	v, ok := bestLabel(jsonObject(resp.Choices[0].Message.Content))
	if !ok {
		return Verdict{}, fmt.Errorf("openai vision: unparseable reply: %w", ErrUnavailable)
	}
	return v, nil
}
