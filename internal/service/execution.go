package service

import (
	"encoding/json"
	"strings"
	"time"

	"cellrun/internal/domain"
	"cellrun/internal/stream"
)

// CellExecution tracks one cell from dispatch to its terminal state.
type CellExecution struct {
	Cell      domain.Cell
	Order     int64
	Status    domain.ExecStatus
	StartedAt time.Time
	EndedAt   time.Time
	Outputs   []domain.OutputItem
	Err       error

	logs *stream.LogBuffer
}

func newCellExecution(cell domain.Cell) *CellExecution {
	return &CellExecution{
		Cell:   cell,
		Status: domain.ExecPending,
		logs:   stream.NewLogBuffer(),
	}
}

func (e *CellExecution) start(order int64, at time.Time) {
	e.Order = order
	e.StartedAt = at
	e.Status = domain.ExecRunning
}

func (e *CellExecution) succeed(res domain.Result, at time.Time) {
	items := make([]domain.OutputItem, 0, 2)
	if strings.TrimSpace(res.HTML) != "" {
		items = append(items, domain.OutputItem{MIME: domain.MIMEHTML, Data: []byte(res.HTML)})
	}
	items = append(items, logLinesItem(e.logs.Lines()))
	e.Outputs = items
	e.Status = domain.ExecSucceeded
	e.EndedAt = at
}

func (e *CellExecution) fail(err error, at time.Time) {
	e.Err = err
	e.Outputs = []domain.OutputItem{errorItem(err)}
	e.Status = domain.ExecFailed
	e.EndedAt = at
}

func logLinesItem(lines []domain.LogLine) domain.OutputItem {
	if lines == nil {
		lines = []domain.LogLine{}
	}
	data, _ := json.Marshal(lines)
	return domain.OutputItem{MIME: domain.MIMELogLines, Data: data}
}

type errorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func errorItem(err error) domain.OutputItem {
	data, _ := json.Marshal(errorPayload{Name: "Error", Message: err.Error()})
	return domain.OutputItem{MIME: domain.MIMEError, Data: data}
}
