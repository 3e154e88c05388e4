package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quizparty/models"
)

// QuestionSource produces an ordered question list for a topic, or fails.
type QuestionSource interface {
	GenerateQuestions(ctx context.Context, topic string, count int) ([]models.Question, error)
}

const quizCacheTTL = 2 * time.Hour

// GeminiQuestionSource generates questions through the Gemini generateContent
// REST endpoint. Responses are cached per topic/count in redis when a client
// is configured; without one every call goes upstream.
type GeminiQuestionSource struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
	cache   *redis.Client
	log     zerolog.Logger
}

func NewGeminiQuestionSource(apiKey, model string, cache *redis.Client, log zerolog.Logger) *GeminiQuestionSource {
	return &GeminiQuestionSource{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com",
		cache:   cache,
		log:     log.With().Str("component", "questions").Logger(),
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (s *GeminiQuestionSource) GenerateQuestions(ctx context.Context, topic string, count int) ([]models.Question, error) {
	cacheKey := fmt.Sprintf("quiz:%s:%d", strings.ToLower(topic), count)
	if cached, ok := s.fromCache(ctx, cacheKey); ok {
		return cached, nil
	}

	text, err := s.generate(ctx, quizPrompt(topic, count))
	if err != nil {
		return nil, err
	}

	raw, err := extractJSONArray(text)
	if err != nil {
		return nil, err
	}

	var questions []models.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("failed to parse quiz questions: %w", err)
	}
	if len(questions) != count {
		return nil, fmt.Errorf("model returned %d questions, expected %d", len(questions), count)
	}
	for i, q := range questions {
		if q.Text == "" || len(q.Options) != 4 || q.CorrectAnswer < 0 || q.CorrectAnswer > 3 {
			return nil, fmt.Errorf("question %d is malformed", i)
		}
	}

	s.toCache(ctx, cacheKey, questions)
	return questions, nil
}

func (s *GeminiQuestionSource) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.baseURL, s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("generation request failed with status %d: %s", resp.StatusCode, data)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("generation response contained no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func quizPrompt(topic string, count int) string {
	return fmt.Sprintf(`Create a multiple-choice quiz about "%s" with %d questions.
For each question, provide 4 options with only one correct answer.
Format the response as a JSON array of objects, where each object has:
- "question": the question text
- "options": array of 4 possible answers
- "correctAnswer": the index (0-3) of the correct answer

Example format:
[
  {
    "question": "What is the capital of France?",
    "options": ["Berlin", "Madrid", "Paris", "Rome"],
    "correctAnswer": 2
  }
]`, topic, count)
}

// extractJSONArray pulls the first JSON array out of free-form model output,
// tolerating prose or code fences around it.
func extractJSONArray(text string) (string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return "", errors.New("no JSON array found in model output")
	}
	return text[start : end+1], nil
}

func (s *GeminiQuestionSource) fromCache(ctx context.Context, key string) ([]models.Question, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	var questions []models.Question
	if err := json.Unmarshal([]byte(data), &questions); err != nil {
		return nil, false
	}
	return questions, true
}

func (s *GeminiQuestionSource) toCache(ctx context.Context, key string, questions []models.Question) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, quizCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
