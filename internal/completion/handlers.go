package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/statement"
)

const (
	transcribeNotice = "To use arctic-transcribe, upload the audio to a Snowflake stage and run the transcription in SQL with BUILD_SCOPED_FILE_URL."
	videoNotice      = "🎬 **TwelveLabs Pegasus** is a video analysis model. Upload the video to a Snowflake stage to use it."
	noAnswerNotice   = "No answer found in the provided text."
)

var translateTarget = regexp.MustCompile(`(?i)translate\s+(?:to|into)\s+(\w+)`)

// languageCodes maps spoken language names to translation codes.
var languageCodes = map[string]string{
	"english":    "en",
	"russian":    "ru",
	"french":     "fr",
	"german":     "de",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
	"turkish":    "tr",
	"polish":     "pl",
	"dutch":      "nl",
	"swedish":    "sv",
	"norwegian":  "no",
	"danish":     "da",
	"finnish":    "fi",
}

// TargetLanguage picks the translation target out of a request text.
// Unknown names fall back to their first two letters; no match means English.
func TargetLanguage(text string) string {
	m := translateTarget.FindStringSubmatch(text)
	if m == nil {
		return "en"
	}
	name := strings.ToLower(m[1])
	if code, ok := languageCodes[name]; ok {
		return code
	}
	if len(name) > 2 {
		return name[:2]
	}
	return name
}

// SentimentLabel buckets a score into Positive, Negative or Neutral.
func SentimentLabel(score float64) string {
	switch {
	case score > 0.3:
		return "Positive"
	case score < -0.3:
		return "Negative"
	default:
		return "Neutral"
	}
}

func (r *Router) sentiment(ctx context.Context, text string) (string, error) {
	sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.SENTIMENT('%s') AS RESPONSE", statement.Escape(text))
	res, err := r.exec.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(res.First()), 64)
	if err != nil {
		score = 0
	}
	return fmt.Sprintf("**Sentiment Analysis**\n\nScore: **%.4f**\nResult: **%s**", score, SentimentLabel(score)), nil
}

func (r *Router) translate(ctx context.Context, text string) (string, error) {
	sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.TRANSLATE('%s', '', '%s') AS RESPONSE",
		statement.Escape(text), statement.Escape(TargetLanguage(text)))
	res, err := r.exec.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	return res.First(), nil
}

type extractedAnswer struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
}

// extractAnswer uses earlier messages as the document and the latest user
// message as the question. A lone message serves as both.
func (r *Router) extractAnswer(ctx context.Context, messages []domain.Message, question string) (string, error) {
	parts := make([]string, 0, len(messages))
	for _, m := range messages[:len(messages)-1] {
		parts = append(parts, m.Content)
	}
	document := strings.Join(parts, "\n")
	if document == "" {
		document = question
	}

	sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.EXTRACT_ANSWER('%s', '%s') AS RESPONSE",
		statement.Escape(document), statement.Escape(question))
	res, err := r.exec.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	return FormatAnswers(res.First()), nil
}

// FormatAnswers renders an EXTRACT_ANSWER result. Output that is not a JSON
// answer list is returned as-is.
func FormatAnswers(raw string) string {
	if raw == "" {
		return noAnswerNotice
	}
	var answers []extractedAnswer
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return raw
	}
	if len(answers) == 0 {
		return noAnswerNotice
	}
	blocks := make([]string, 0, len(answers))
	for i, a := range answers {
		blocks = append(blocks, fmt.Sprintf("**Answer %d** (score: %.3f):\n%s", i+1, a.Score, a.Answer))
	}
	return strings.Join(blocks, "\n\n")
}

func (r *Router) summarize(ctx context.Context, text string) (string, error) {
	sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.SUMMARIZE('%s') AS RESPONSE", statement.Escape(text))
	res, err := r.exec.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	return res.First(), nil
}

func (r *Router) textToSQL(ctx context.Context, question string) (string, error) {
	prompt := "You are a SQL expert. Convert the following natural language request into a valid SQL query. Only output the SQL query, no explanations.\n\nRequest: " + question
	sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.AI_COMPLETE('%s', '%s') AS RESPONSE",
		statement.Escape(r.cfg.SQLModel), statement.Escape(prompt))
	res, err := r.exec.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	return "**Generated SQL:**\n\n```sql\n" + UnwrapCompletion(res.First()) + "\n```", nil
}
