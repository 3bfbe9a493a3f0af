package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

const DefaultPollInterval = 5 * time.Second

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a probe error as final; Poll stops and returns the wrapped
// error instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Poll invokes probe immediately and then every interval until it reports
// done or a permanent error. Other probe errors are retried. Poll has no
// attempt limit; bound it with ctx.
func Poll[T any](ctx context.Context, interval time.Duration, probe func(context.Context) (T, bool, error)) (T, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var zero T
	for {
		value, done, err := probe(ctx)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return zero, perm.err
			}
		} else if done {
			return value, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitForReceivingTransaction polls the status API until the transfer settles
// on the destination chain. Transport errors and PENDING/NOT_FOUND answers are
// retried; FAILED or unknown statuses end the wait.
func WaitForReceivingTransaction(ctx context.Context, api RoutingAPI, req StatusRequest, interval time.Duration, logger *slog.Logger) (StatusResponse, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Poll(ctx, interval, func(ctx context.Context) (StatusResponse, bool, error) {
		resp, err := api.GetStatus(ctx, req)
		if err != nil {
			logger.Debug("fetching transfer status failed", "tx_hash", req.TxHash, "err", err)
			return StatusResponse{}, false, err
		}
		switch resp.Status {
		case "DONE":
			if resp.Receiving == nil {
				return StatusResponse{}, false, Permanent(clierr.New(clierr.CodeServer, "Status doesn't contain receiving information."))
			}
			return resp, true, nil
		case "PENDING", "NOT_FOUND":
			logger.Debug("transfer not settled yet", "tx_hash", req.TxHash, "status", resp.Status, "substatus", resp.Substatus)
			return StatusResponse{}, false, nil
		case "FAILED":
			return StatusResponse{}, false, Permanent(clierr.New(clierr.CodeTxFailed, "Transfer failed on the receiving chain."))
		default:
			return StatusResponse{}, false, Permanent(clierr.New(clierr.CodeServer, "Unexpected transfer status "+resp.Status+"."))
		}
	})
}
