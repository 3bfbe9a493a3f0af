package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

func TestPollReturnsAfterThirdProbe(t *testing.T) {
	calls := 0
	got, err := Poll(context.Background(), time.Millisecond, func(context.Context) (string, bool, error) {
		calls++
		if calls < 3 {
			return "", false, nil
		}
		return "settled", true, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got != "settled" || calls != 3 {
		t.Fatalf("expected settled after 3 probes, got %q after %d", got, calls)
	}
}

func TestPollStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Poll(context.Background(), time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single probe, got %d", calls)
	}
}

func TestPollRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Poll(context.Background(), time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		if calls == 1 {
			return 0, false, errors.New("connection reset")
		}
		return 7, true, nil
	})
	if err != nil || got != 7 || calls != 2 {
		t.Fatalf("unexpected poll result: got=%d calls=%d err=%v", got, calls, err)
	}
}

func TestPollHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Poll(ctx, 5*time.Millisecond, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitForReceivingTransaction(t *testing.T) {
	api := &fakeAPI{statuses: []statusResult{
		{err: errors.New("dial tcp: i/o timeout")},
		{resp: StatusResponse{Status: "NOT_FOUND"}},
		{resp: StatusResponse{Status: "PENDING", Substatus: SubstatusWaitDestinationTransaction}},
		{resp: doneStatus("998000")},
	}}
	req := StatusRequest{Bridge: "across", FromChain: testPolygon, ToChain: testOP, TxHash: "0xabc"}
	resp, err := WaitForReceivingTransaction(context.Background(), api, req, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if api.statusCalls != 4 || resp.Receiving.Amount != "998000" {
		t.Fatalf("unexpected result after %d calls: %+v", api.statusCalls, resp)
	}
	if api.requests[0] != req {
		t.Fatalf("unexpected status request: %+v", api.requests[0])
	}
}

func TestWaitForReceivingTransactionFailures(t *testing.T) {
	cases := []struct {
		name string
		resp StatusResponse
		code clierr.Code
	}{
		{"failed", StatusResponse{Status: "FAILED"}, clierr.CodeTxFailed},
		{"missing receiving", StatusResponse{Status: "DONE"}, clierr.CodeServer},
		{"invalid", StatusResponse{Status: "INVALID"}, clierr.CodeServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{statuses: []statusResult{{resp: tc.resp}}}
			_, err := WaitForReceivingTransaction(context.Background(), api, StatusRequest{TxHash: "0xabc"}, time.Millisecond, nil)
			cliErr, ok := clierr.As(err)
			if !ok || cliErr.Code != tc.code {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if api.statusCalls != 1 {
				t.Fatalf("expected no retries, got %d calls", api.statusCalls)
			}
		})
	}
}
