package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ggonzalez94/route-executor/internal/execution"
)

// Progress prints a line whenever a process changes status, substatus or
// transaction hash. It is safe to use as a route update callback.
type Progress struct {
	w    io.Writer
	mode string

	mu   sync.Mutex
	seen map[string]string
}

func NewProgress(w io.Writer, mode string) *Progress {
	return &Progress{w: w, mode: mode, seen: map[string]string{}}
}

type progressLine struct {
	RouteID   string `json:"route_id"`
	Step      int    `json:"step"`
	Steps     int    `json:"steps"`
	Tool      string `json:"tool,omitempty"`
	Process   string `json:"process"`
	Status    string `json:"status"`
	Substatus string `json:"substatus,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	TxLink    string `json:"tx_link,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (p *Progress) Update(route execution.Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, step := range route.Steps {
		if step.Execution == nil {
			continue
		}
		for _, proc := range step.Execution.Process {
			key := fmt.Sprintf("%s/%d/%s", route.ID, i, proc.Type)
			state := fmt.Sprintf("%s|%s|%s", proc.Status, proc.Substatus, proc.TxHash)
			if p.seen[key] == state {
				continue
			}
			p.seen[key] = state
			message := proc.Message
			if proc.Error != nil {
				message = firstNonEmptyString(proc.Error.DisplayMessage, proc.Error.Message)
			}
			p.write(progressLine{
				RouteID:   route.ID,
				Step:      i + 1,
				Steps:     len(route.Steps),
				Tool:      step.Tool,
				Process:   string(proc.Type),
				Status:    string(proc.Status),
				Substatus: string(proc.Substatus),
				TxHash:    proc.TxHash,
				TxLink:    proc.TxLink,
				Message:   message,
			})
		}
	}
}

func (p *Progress) write(line progressLine) {
	if p.mode == "json" {
		buf, err := json.Marshal(line)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(p.w, string(buf))
		return
	}
	text, err := toLine(normalizeValue(line))
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(p.w, text)
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
