package completion

import (
	"strings"
)

// TaskKind selects the handler for a chat request.
type TaskKind int

const (
	// TaskComplete is the generic completion, used for every unmatched model.
	TaskComplete TaskKind = iota
	TaskSentiment
	TaskTranslate
	TaskExtractAnswer
	TaskSummarize
	TaskTextToSQL
	TaskTranscribe
	TaskVideo
)

func (k TaskKind) String() string {
	switch k {
	case TaskSentiment:
		return "sentiment"
	case TaskTranslate:
		return "translate"
	case TaskExtractAnswer:
		return "extract-answer"
	case TaskSummarize:
		return "parse-document"
	case TaskTextToSQL:
		return "text-to-sql"
	case TaskTranscribe:
		return "transcribe"
	case TaskVideo:
		return "video"
	default:
		return "complete"
	}
}

var exactTasks = map[string]TaskKind{
	"arctic-sentiment":       TaskSentiment,
	"arctic-translate":       TaskTranslate,
	"arctic-extract-answer":  TaskExtractAnswer,
	"arctic-extract":         TaskExtractAnswer,
	"arctic-parse-document":  TaskSummarize,
	"arctic-text2sql":        TaskTextToSQL,
	"arctic-text2sql-r1.5":   TaskTextToSQL,
	"arctic-transcribe":      TaskTranscribe,
	"twelvelabs-pegasus-1-2": TaskVideo,
}

var prefixTasks = []struct {
	prefix string
	kind   TaskKind
}{
	{"arctic-sentiment", TaskSentiment},
	{"arctic-translate", TaskTranslate},
	{"arctic-extract", TaskExtractAnswer},
	{"arctic-parse-document", TaskSummarize},
	{"arctic-text2sql", TaskTextToSQL},
	{"arctic-transcribe", TaskTranscribe},
	{"twelvelabs-pegasus", TaskVideo},
}

// NormalizeModel is the lookup key for a model identifier.
func NormalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// Classify maps a model identifier to its task. Exact matches win over
// prefixes; anything else is a generic completion.
func Classify(model string) TaskKind {
	key := NormalizeModel(model)
	if kind, ok := exactTasks[key]; ok {
		return kind
	}
	for _, p := range prefixTasks {
		if strings.HasPrefix(key, p.prefix) {
			return p.kind
		}
	}
	return TaskComplete
}
