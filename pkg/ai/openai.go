package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-portal/internal/models"
)

const maxPromptChars = 30000

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of AI requests",
	}, []string{"model", "operation"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of AI request failures",
	}, []string{"model", "operation"})
)

// OpenAIConfig defines configuration options for the OpenAI service.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIService implements Service against the OpenAI chat completion API.
type OpenAIService struct {
	client chatCompleter
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

var _ Service = (*OpenAIService)(nil)

// NewOpenAIService builds a new service using the provided configuration.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return newOpenAIService(openai.NewClientWithConfig(config), cfg), nil
}

func newOpenAIService(client chatCompleter, cfg OpenAIConfig) *OpenAIService {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIService{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-portal/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai").Logger(),
	}
}

// GradeSubmission grades a submission against the task description.
func (s *OpenAIService) GradeSubmission(ctx context.Context, input GradeInput) (models.SubmissionResult, error) {
	maxPoints := input.MaxPoints
	if maxPoints <= 0 {
		maxPoints = 100
	}

	system := "You are an expert Informatics professor grading student work. " +
		"Respond with a JSON object with grade (number), feedback, criteriaAdherence, " +
		"and the string arrays strengths, weaknesses and suggestions."
	user := strings.Builder{}
	user.WriteString("# Assignment criteria\n")
	user.WriteString(truncate(input.TaskDescription))
	user.WriteString(fmt.Sprintf("\n\n# Max points\n%d\n\n# File name\n%s\n\n# Submission\n", maxPoints, input.FileName))
	user.WriteString(truncate(input.FileText))
	user.WriteString("\n\nIf the work is completely off-topic the grade is 0. Check every point of the criteria.")
	user.WriteString(languageLine(input.Language))

	var result models.SubmissionResult
	if err := s.complete(ctx, "grade", system, user.String(), &result); err != nil {
		return models.SubmissionResult{}, err
	}

	if result.Grade < 0 {
		result.Grade = 0
	}
	if result.Grade > float64(maxPoints) {
		result.Grade = float64(maxPoints)
	}
	return result, nil
}

// AuditSubmission checks topic match and adherence to the criteria.
func (s *OpenAIService) AuditSubmission(ctx context.Context, input AuditInput) (models.IndividualAuditResult, error) {
	system := "You audit student submissions against their assignment. Respond with a JSON object with " +
		"adherenceScore (0-100), topicMatch (boolean), missingPoints and metPoints (string arrays) and detailedCritique."
	user := fmt.Sprintf("# Criteria\n%s\n\n# File name\n%s\n\n# Submission\n%s%s",
		truncate(input.Criteria), input.FileName, truncate(input.FileText), languageLine(input.Language))

	var result models.IndividualAuditResult
	if err := s.complete(ctx, "audit", system, user, &result); err != nil {
		return models.IndividualAuditResult{}, err
	}
	result.AdherenceScore = clampPercent(result.AdherenceScore)
	return result, nil
}

// CheckPlagiarism estimates originality against up to five peers.
func (s *OpenAIService) CheckPlagiarism(ctx context.Context, input PlagiarismInput) (PlagiarismResult, error) {
	peers := input.Peers
	if len(peers) > 5 {
		peers = peers[:5]
	}
	peerContext := make([]map[string]string, 0, len(peers))
	for _, peer := range peers {
		peerContext = append(peerContext, map[string]string{"email": peer.Email, "content": truncate(peer.Text)})
	}
	encoded, err := json.Marshal(peerContext)
	if err != nil {
		return PlagiarismResult{}, fmt.Errorf("encode plagiarism context: %w", err)
	}

	system := "Act as a plagiarism detection system for academic integrity. Respond only with a JSON object " +
		`{"originalityScore": number, "similarEmail": string or null}. Originality is a percentage: 100 is unique, 0 is a copy. ` +
		"Name similarEmail only when originality is below 70."
	user := fmt.Sprintf("# Other students' work\n%s\n\n# Work to check\n%s", encoded, truncate(input.FileText))

	var result PlagiarismResult
	if err := s.complete(ctx, "plagiarism", system, user, &result); err != nil {
		return PlagiarismResult{}, err
	}
	result.Originality = clampPercent(result.Originality)
	if result.Originality >= 70 {
		result.SimilarEmail = ""
	}
	return result, nil
}

// GenerateTest drafts multiple-choice questions on a topic.
func (s *OpenAIService) GenerateTest(ctx context.Context, input GenerateTestInput) ([]models.TestQuestion, error) {
	count := input.Count
	if count <= 0 {
		count = 5
	}
	variants := input.Variants
	if variants < 2 {
		variants = 4
	}

	system := `You write multiple-choice questions. Respond with a JSON object {"questions": [{"question": string, ` +
		`"options": [string], "correctAnswer": number}]} where correctAnswer is the zero-based index of the right option.`
	user := fmt.Sprintf("Generate %d questions about %q with %d options each.%s", count, input.Topic, variants, languageLine(input.Language))

	var payload struct {
		Questions []models.TestQuestion `json:"questions"`
	}
	if err := s.complete(ctx, "generate_test", system, user, &payload); err != nil {
		return nil, err
	}

	questions := make([]models.TestQuestion, 0, len(payload.Questions))
	for _, question := range payload.Questions {
		if strings.TrimSpace(question.Question) == "" || len(question.Options) < 2 {
			continue
		}
		if question.CorrectAnswer < 0 || question.CorrectAnswer >= len(question.Options) {
			continue
		}
		questions = append(questions, question)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("openai returned no usable questions")
	}
	return questions, nil
}

// GenerateLecture writes a Markdown lecture for university students.
func (s *OpenAIService) GenerateLecture(ctx context.Context, input GenerateLectureInput) (string, error) {
	system := `You write detailed academic lectures for Informatics university students. ` +
		`Respond with a JSON object {"content": string} where content is the lecture in Markdown.`
	user := fmt.Sprintf("Write a lecture on the topic %q.%s", input.Topic, languageLine(input.Language))

	var payload struct {
		Content string `json:"content"`
	}
	if err := s.complete(ctx, "generate_lecture", system, user, &payload); err != nil {
		return "", err
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return "", fmt.Errorf("openai returned an empty lecture")
	}
	return content, nil
}

// GenerateSyllabus drafts a weekly plan for a course.
func (s *OpenAIService) GenerateSyllabus(ctx context.Context, input GenerateSyllabusInput) (SyllabusDraft, error) {
	weeks := input.Weeks
	if weeks <= 0 {
		weeks = 15
	}

	system := `You plan university courses. Respond with a JSON object {"courseName": string, "description": string, ` +
		`"topics": [{"week": number, "title": string, "description": string}]}.`
	user := fmt.Sprintf("Create a %d-week syllabus for %q.%s", weeks, input.CourseName, languageLine(input.Language))

	var draft SyllabusDraft
	if err := s.complete(ctx, "generate_syllabus", system, user, &draft); err != nil {
		return SyllabusDraft{}, err
	}

	topics := make([]models.SyllabusTopic, 0, len(draft.Topics))
	for _, topic := range draft.Topics {
		if strings.TrimSpace(topic.Title) == "" {
			continue
		}
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return SyllabusDraft{}, fmt.Errorf("openai returned no syllabus topics")
	}
	draft.Topics = topics
	if strings.TrimSpace(draft.CourseName) == "" {
		draft.CourseName = input.CourseName
	}
	return draft, nil
}

func (s *OpenAIService) complete(parent context.Context, operation, system, user string, target interface{}) error {
	ctx, span := s.tracer.Start(parent, "openai."+operation, trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(s.cfg.Model, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return s.fail(span, operation, fmt.Errorf("openai %s: %w", operation, err))
	}
	if len(resp.Choices) == 0 {
		return s.fail(span, operation, fmt.Errorf("no choices returned from openai"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return s.fail(span, operation, fmt.Errorf("parse %s json: %w", operation, err))
	}

	s.logger.Debug().Str("operation", operation).Int("total_tokens", resp.Usage.TotalTokens).Msg("ai request completed")
	return nil
}

func (s *OpenAIService) fail(span trace.Span, operation string, err error) error {
	aiFailures.WithLabelValues(s.cfg.Model, operation).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn().Err(err).Str("operation", operation).Msg("ai request failed")
	return err
}

func truncate(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	return text[:maxPromptChars] + "... [Content truncated]"
}

func languageLine(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "kk":
		return "\nAnswer in Kazakh."
	case "ru":
		return "\nAnswer in Russian."
	default:
		return "\nAnswer in English."
	}
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
