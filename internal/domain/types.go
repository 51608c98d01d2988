package domain

import (
	"context"
	"strings"
	"time"
)

type Language string

const (
	LanguageSAS    Language = "sas"
	LanguageSQL    Language = "sql"
	LanguagePython Language = "python"
)

// ParseLanguage maps a cell's language tag onto the closed set of
// sub-languages. Unknown and empty tags run as the default language.
func ParseLanguage(tag string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(tag))) {
	case LanguageSQL:
		return LanguageSQL
	case LanguagePython:
		return LanguagePython
	default:
		return LanguageSAS
	}
}

type Cell struct {
	Index    int
	Source   string
	Language Language
}

type LogLine struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

const (
	LogTypeNormal = "normal"
	LogTypeError  = "error"
)

type Result struct {
	HTML string
}

type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecSucceeded ExecStatus = "succeeded"
	ExecFailed    ExecStatus = "failed"
)

const (
	MIMEHTML     = "application/vnd.cellrun.html5"
	MIMELogLines = "application/vnd.cellrun.log.lines"
	MIMEError    = "application/vnd.code.notebook.error"
)

type OutputItem struct {
	MIME string
	Data []byte
}

// Host is the editor surface the orchestrator reports to. Progress must not
// block: the host keeps the indicator visible until done is closed.
type Host interface {
	Notify(ctx context.Context, msg string)
	Progress(ctx context.Context, title string, done <-chan struct{})
	CellStarted(ctx context.Context, cell Cell, order int64, at time.Time)
	CellOutput(ctx context.Context, cell Cell, items []OutputItem)
	CellEnded(ctx context.Context, cell Cell, status ExecStatus, at time.Time)
}
