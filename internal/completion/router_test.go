package completion

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hjgyhfyh/site/internal/deadline"
	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records statements and answers them with respond.
type fakeExecutor struct {
	mu         sync.Mutex
	statements []string
	respond    func(ctx context.Context, call int, sql string) (*statement.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, sql string) (*statement.Result, error) {
	f.mu.Lock()
	f.statements = append(f.statements, sql)
	call := len(f.statements)
	f.mu.Unlock()
	return f.respond(ctx, call, sql)
}

func (f *fakeExecutor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

func cell(v string) *statement.Result {
	return &statement.Result{Data: [][]*string{{&v}}}
}

func answer(v string) func(context.Context, int, string) (*statement.Result, error) {
	return func(context.Context, int, string) (*statement.Result, error) { return cell(v), nil }
}

type staticPrompts map[string]string

func (p staticPrompts) AgentPrompt(id string) string { return p[id] }

func userMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content}
}

func botMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: content}
}

func TestRouteSentiment(t *testing.T) {
	exec := &fakeExecutor{respond: answer("0.82")}
	r := NewRouter(exec, nil, Config{}, nil)

	text, kind, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "arctic-sentiment",
		Messages: []domain.Message{userMsg("I love it")},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskSentiment, kind)
	assert.Equal(t, "**Sentiment Analysis**\n\nScore: **0.8200**\nResult: **Positive**", text)
	require.Len(t, exec.calls(), 1)
	assert.Contains(t, exec.calls()[0], "SNOWFLAKE.CORTEX.SENTIMENT('I love it')")
}

func TestRouteSentimentUnparsableScore(t *testing.T) {
	exec := &fakeExecutor{respond: answer("n/a")}
	r := NewRouter(exec, nil, Config{}, nil)

	text, _, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "arctic-sentiment",
		Messages: []domain.Message{userMsg("meh")},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Score: **0.0000**")
	assert.Contains(t, text, "Result: **Neutral**")
}

func TestRouteTranslateToFrench(t *testing.T) {
	exec := &fakeExecutor{respond: answer("Bonjour")}
	r := NewRouter(exec, nil, Config{}, nil)

	text, kind, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "arctic-translate",
		Messages: []domain.Message{userMsg("translate to french: hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskTranslate, kind)
	assert.Equal(t, "Bonjour", text)
	assert.Contains(t, exec.calls()[0], "'', 'fr')")
}

func TestRouteEscapesQuotes(t *testing.T) {
	exec := &fakeExecutor{respond: answer("summary")}
	r := NewRouter(exec, nil, Config{}, nil)

	_, _, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "arctic-parse-document",
		Messages: []domain.Message{userMsg(`it's here`)},
	})
	require.NoError(t, err)
	assert.Contains(t, exec.calls()[0], "SUMMARIZE('it''s here')")
}

func TestRouteExtractAnswerUsesHistoryAsDocument(t *testing.T) {
	exec := &fakeExecutor{respond: answer(`[{"answer":"Paris","score":0.91234}]`)}
	r := NewRouter(exec, nil, Config{}, nil)

	text, kind, err := r.Route(context.Background(), domain.ChatRequest{
		Model: "arctic-extract",
		Messages: []domain.Message{
			userMsg("France's capital is Paris."),
			botMsg("Noted."),
			userMsg("What is the capital?"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskExtractAnswer, kind)
	assert.Equal(t, "**Answer 1** (score: 0.912):\nParis", text)
	assert.Contains(t, exec.calls()[0], "EXTRACT_ANSWER('France''s capital is Paris.\nNoted.', 'What is the capital?')")
}

func TestRouteTextToSQL(t *testing.T) {
	exec := &fakeExecutor{respond: answer(`"SELECT * FROM users"`)}
	r := NewRouter(exec, nil, Config{}, nil)

	text, kind, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "arctic-text2sql-r1.5",
		Messages: []domain.Message{userMsg("all users")},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskTextToSQL, kind)
	assert.Equal(t, "**Generated SQL:**\n\n```sql\nSELECT * FROM users\n```", text)
	assert.Contains(t, exec.calls()[0], "AI_COMPLETE('mistral-large2'")
}

func TestRouteStubsSkipExecutor(t *testing.T) {
	exec := &fakeExecutor{respond: answer("unused")}
	r := NewRouter(exec, nil, Config{}, nil)

	for _, model := range []string{"arctic-transcribe", "twelvelabs-pegasus-1-2"} {
		text, _, err := r.Route(context.Background(), domain.ChatRequest{
			Model:    model,
			Messages: []domain.Message{userMsg("x")},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, text)
	}
	assert.Empty(t, exec.calls())
}

func TestRouteGenericCompletionPrompt(t *testing.T) {
	exec := &fakeExecutor{respond: answer(`{"choices":[{"messages":"Hi there"}]}`)}
	r := NewRouter(exec, staticPrompts{"coder": "Write Go."}, Config{}, nil)

	text, kind, err := r.Route(context.Background(), domain.ChatRequest{
		Model:              "Mistral-Large2",
		Messages:           []domain.Message{userMsg("hello"), botMsg("hey"), userMsg("how are you")},
		CustomInstructions: "Be brief.",
		AgentID:            "coder",
	})
	require.NoError(t, err)
	assert.Equal(t, TaskComplete, kind)
	assert.Equal(t, "Hi there", text)

	sql := exec.calls()[0]
	assert.Contains(t, sql, "COMPLETE('mistral-large2', 'You are a powerful Human assistant\n\nBe brief.\n\nWrite Go.\n\n\n\nUser: hello\n\nAssistant: hey\n\nUser: how are you')")
}

func TestRegenerateIgnoresTaskModels(t *testing.T) {
	exec := &fakeExecutor{respond: answer("plain text")}
	r := NewRouter(exec, nil, Config{}, nil)

	text, err := r.Regenerate(context.Background(), domain.ChatRequest{
		Model:    "arctic-sentiment",
		Messages: []domain.Message{userMsg("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text", text)
	assert.Contains(t, exec.calls()[0], "CORTEX.COMPLETE('arctic-sentiment'")
}

func TestCompleteRetriesOnContextOverflow(t *testing.T) {
	exec := &fakeExecutor{respond: func(_ context.Context, call int, _ string) (*statement.Result, error) {
		if call == 1 {
			return nil, &statement.UpstreamError{Status: 400, Body: `{"message":"max tokens exceeded"}`}
		}
		return cell("ok"), nil
	}}
	r := NewRouter(exec, nil, Config{}, nil)

	msgs := []domain.Message{userMsg("one"), botMsg("two"), userMsg("three"), botMsg("four")}
	text, _, err := r.Route(context.Background(), domain.ChatRequest{Model: "llama3.1-8b", Messages: msgs})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	calls := exec.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "User: one")
	assert.NotContains(t, calls[1], "User: one")
	assert.NotContains(t, calls[1], "Assistant: two")
	assert.Contains(t, calls[1], "User: three\n\nAssistant: four")
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := &fakeExecutor{respond: func(context.Context, int, string) (*statement.Result, error) {
		return nil, &statement.UpstreamError{Status: 400, Body: "context length exceeded"}
	}}
	r := NewRouter(exec, nil, Config{}, nil)

	msgs := make([]domain.Message, 16)
	for i := range msgs {
		msgs[i] = userMsg("m")
	}
	_, _, err := r.Route(context.Background(), domain.ChatRequest{Model: "llama3.1-8b", Messages: msgs})
	var upErr *statement.UpstreamError
	assert.ErrorAs(t, err, &upErr)
	assert.Len(t, exec.calls(), 3)
}

func TestCompleteDoesNotRetryOtherErrors(t *testing.T) {
	exec := &fakeExecutor{respond: func(context.Context, int, string) (*statement.Result, error) {
		return nil, statement.ErrCancelled
	}}
	r := NewRouter(exec, nil, Config{}, nil)

	_, _, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "llama3.1-8b",
		Messages: []domain.Message{userMsg("a"), userMsg("b")},
	})
	assert.ErrorIs(t, err, statement.ErrCancelled)
	assert.Len(t, exec.calls(), 1)
}

func TestCompleteNoRows(t *testing.T) {
	exec := &fakeExecutor{respond: func(context.Context, int, string) (*statement.Result, error) {
		return &statement.Result{}, nil
	}}
	r := NewRouter(exec, nil, Config{}, nil)

	_, _, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "llama3.1-8b",
		Messages: []domain.Message{userMsg("a")},
	})
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestRouteOperationTimeout(t *testing.T) {
	exec := &fakeExecutor{respond: func(ctx context.Context, _ int, _ string) (*statement.Result, error) {
		<-ctx.Done()
		return nil, statement.ErrCancelled
	}}
	r := NewRouter(exec, nil, Config{OperationTimeout: 20 * time.Millisecond}, nil)

	_, _, err := r.Route(context.Background(), domain.ChatRequest{
		Model:    "llama3.1-8b",
		Messages: []domain.Message{userMsg("a")},
	})
	require.ErrorIs(t, err, ErrOperationTimeout)
	var expired *deadline.Expired
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, "Model processing timeout (20ms)", expired.Error())
}

func TestRouteCallerCancellationIsNotTimeout(t *testing.T) {
	exec := &fakeExecutor{respond: func(ctx context.Context, _ int, _ string) (*statement.Result, error) {
		<-ctx.Done()
		return nil, statement.ErrCancelled
	}}
	r := NewRouter(exec, nil, Config{OperationTimeout: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, _, err := r.Route(ctx, domain.ChatRequest{
		Model:    "llama3.1-8b",
		Messages: []domain.Message{userMsg("a")},
	})
	assert.ErrorIs(t, err, statement.ErrCancelled)
	assert.NotErrorIs(t, err, ErrOperationTimeout)
}

func TestRouteRejectsEmptyConversation(t *testing.T) {
	r := NewRouter(&fakeExecutor{respond: answer("x")}, nil, Config{}, nil)
	_, _, err := r.Route(context.Background(), domain.ChatRequest{Model: "llama3.1-8b"})
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

func TestFormatAnswers(t *testing.T) {
	assert.Equal(t, noAnswerNotice, FormatAnswers("[]"))
	assert.Equal(t, noAnswerNotice, FormatAnswers(""))
	assert.Equal(t, "not json", FormatAnswers("not json"))
	assert.Equal(t,
		"**Answer 1** (score: 0.500):\na\n\n**Answer 2** (score: 0.250):\nb",
		FormatAnswers(`[{"answer":"a","score":0.5},{"answer":"b","score":0.25}]`))
}

func TestTargetLanguage(t *testing.T) {
	cases := map[string]string{
		"translate to French: hi":      "fr",
		"Please TRANSLATE INTO german": "de",
		"translate to klingon":         "kl",
		"hola":                         "en",
		"translate into norwegian":     "no",
	}
	for in, want := range cases {
		assert.Equal(t, want, TargetLanguage(in), in)
	}
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, "Positive", SentimentLabel(0.31))
	assert.Equal(t, "Neutral", SentimentLabel(0.3))
	assert.Equal(t, "Neutral", SentimentLabel(-0.3))
	assert.Equal(t, "Negative", SentimentLabel(-0.31))
}

func TestRenderPromptLayout(t *testing.T) {
	got := RenderPrompt("SYS", []domain.Message{userMsg("a"), botMsg("b")})
	assert.Equal(t, "SYS\n\nUser: a\n\nAssistant: b", got)
	assert.True(t, strings.HasPrefix(RenderPrompt("SYS", nil), "SYS\n\n"))
}
