package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/route-executor/internal/config"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["a"].(float64) != 1 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["b"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "x", "score": 42}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name=x") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestProgressPrintsTransitionsOnce(t *testing.T) {
	route := execution.Route{
		ID: "route-1",
		Steps: []execution.Step{{
			ID:   "s1",
			Tool: "across",
			Execution: &execution.Execution{
				Status: execution.StatusPending,
				Process: []execution.Process{
					{Type: execution.ProcessCrossChain, Status: execution.StatusPending, TxHash: "0xabc", Message: "Waiting for transaction."},
				},
			},
		}},
	}
	var buf bytes.Buffer
	p := NewProgress(&buf, "json")
	p.Update(route)
	p.Update(route)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single line for an unchanged process, got %q", buf.String())
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if line["process"] != "CROSS_CHAIN" || line["tx_hash"] != "0xabc" || line["step"].(float64) != 1 {
		t.Fatalf("unexpected progress line: %s", lines[0])
	}

	route.Steps[0].Execution.Process[0].Status = execution.StatusFailed
	route.Steps[0].Execution.Process[0].Error = &execution.ProcessError{Code: "TransactionFailed", Message: "reverted", DisplayMessage: "Transaction was reverted."}
	buf.Reset()
	plain := NewProgress(&buf, "plain")
	plain.Update(route)
	if !strings.Contains(buf.String(), "status=FAILED") || !strings.Contains(buf.String(), "message=Transaction was reverted.") {
		t.Fatalf("unexpected plain progress: %s", buf.String())
	}
}
