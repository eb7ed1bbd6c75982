package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// JudgeRequest is the structured evaluation request for one essay
// answer.
type JudgeRequest struct {
	QuestionText  string
	Rubric        string
	SubmittedText string
	MaxPoints     float64
}

// JudgeVerdict is the judge's parsed reply. Score is clamped by the
// caller, not here.
type JudgeVerdict struct {
	Score    float64 `json:"score"`
	Correct  bool    `json:"correct"`
	Feedback string  `json:"feedback"`
}

// Judge scores essay answers against a rubric. Implementations are
// external services; any error (including timeout) means "no verdict".
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeVerdict, error)
}

// OpenAIJudge grades essays via an OpenAI-compatible chat API.
type OpenAIJudge struct {
	api   *openai.Client
	model string
}

func NewOpenAIJudge(baseURL, apiKey, modelName string) *OpenAIJudge {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIJudge{
		api:   openai.NewClientWithConfig(cfg),
		model: modelName,
	}
}

func (j *OpenAIJudge) Judge(ctx context.Context, req JudgeRequest) (JudgeVerdict, error) {
	resp, err := j.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildJudgePrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.SubmittedText},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return JudgeVerdict{}, fmt.Errorf("judge API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return JudgeVerdict{}, fmt.Errorf("judge returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	var v JudgeVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return JudgeVerdict{}, fmt.Errorf("parse judge response: %w (raw: %s)", err, raw)
	}
	return v, nil
}

func buildJudgePrompt(req JudgeRequest) string {
	var sb strings.Builder
	sb.WriteString("You are an exam grader. Grade the student's essay answer to the following question.\n\n")
	sb.WriteString("QUESTION: " + req.QuestionText + "\n\n")
	sb.WriteString(fmt.Sprintf("MAX POINTS: %g\n\n", req.MaxPoints))
	if req.Rubric != "" {
		sb.WriteString("GRADING RUBRIC:\n" + req.Rubric + "\n\n")
	}
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <number 0 to max_points>, "correct": <true if the answer deserves a passing grade>, "feedback": "<brief feedback>"}`)
	sb.WriteString("\n")
	return sb.String()
}
