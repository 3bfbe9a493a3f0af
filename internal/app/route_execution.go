package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/route-executor/internal/allowance"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/out"
	"github.com/ggonzalez94/route-executor/internal/policy"
	"github.com/ggonzalez94/route-executor/internal/wallet"
	"github.com/ggonzalez94/route-executor/internal/wallet/signer"
	"github.com/spf13/cobra"
)

type executeFlags struct {
	routeID            string
	yes                bool
	keySource          string
	confirmAddress     string
	infiniteApproval   bool
	acceptRateChanges  bool
	haltBeforeSigning  bool
	maxFeeGwei         string
	maxPriorityFeeGwei string
	gasMultiplier      float64
	pollInterval       time.Duration
	stepTimeout        time.Duration
}

func (s *runtimeState) newRouteExecuteCommand(mode string) *cobra.Command {
	var flags executeFlags
	short := "Execute a stored route with the local signer"
	if mode == "resume" {
		short = "Resume a halted or failed route from where it stopped"
	}
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			if err := policy.CheckConfirmed(path, flags.yes); err != nil {
				return err
			}
			s.applyExecuteDefaults(cmd, &flags)
			return s.runRoute(cmd.Context(), path, mode == "resume", flags)
		},
	}
	cmd.Flags().StringVar(&flags.routeID, "route-id", "", "Stored route id")
	cmd.Flags().BoolVar(&flags.yes, "yes", false, "Confirm signing and broadcasting transactions")
	cmd.Flags().StringVar(&flags.keySource, "key-source", signer.KeySourceAuto, "Signer key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&flags.confirmAddress, "confirm-address", "", "Abort unless the signer address matches")
	cmd.Flags().BoolVar(&flags.infiniteApproval, "infinite-approval", false, "Approve the max allowance instead of the step amount")
	cmd.Flags().BoolVar(&flags.acceptRateChanges, "accept-rate-changes", false, "Accept refreshed quotes outside the step slippage")
	cmd.Flags().BoolVar(&flags.haltBeforeSigning, "halt-before-signing", false, "Stop before the first signature and leave the route resumable")
	cmd.Flags().StringVar(&flags.maxFeeGwei, "max-fee-gwei", "", "EIP-1559 max fee override in gwei")
	cmd.Flags().StringVar(&flags.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "EIP-1559 priority fee override in gwei")
	cmd.Flags().Float64Var(&flags.gasMultiplier, "gas-multiplier", 0, "Multiplier applied to node gas estimates")
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", 0, "Destination status poll interval")
	cmd.Flags().DurationVar(&flags.stepTimeout, "step-timeout", 0, "Maximum wait for a single transaction confirmation")
	_ = cmd.MarkFlagRequired("route-id")
	return cmd
}

// applyExecuteDefaults fills unset flags from the loaded settings.
func (s *runtimeState) applyExecuteDefaults(cmd *cobra.Command, flags *executeFlags) {
	if !cmd.Flags().Changed("infinite-approval") {
		flags.infiniteApproval = s.settings.InfiniteApproval
	}
	if !cmd.Flags().Changed("max-fee-gwei") {
		flags.maxFeeGwei = s.settings.MaxFeeGwei
	}
	if !cmd.Flags().Changed("max-priority-fee-gwei") {
		flags.maxPriorityFeeGwei = s.settings.MaxPriorityFeeGwei
	}
	if !cmd.Flags().Changed("gas-multiplier") {
		flags.gasMultiplier = s.settings.GasMultiplier
	}
	if !cmd.Flags().Changed("poll-interval") {
		flags.pollInterval = s.settings.PollInterval
	}
	if !cmd.Flags().Changed("step-timeout") {
		flags.stepTimeout = s.settings.StepTimeout
	}
}

func (s *runtimeState) runRoute(parent context.Context, commandPath string, resume bool, flags executeFlags) error {
	route, err := s.routeStore.Get(strings.TrimSpace(flags.routeID))
	if err != nil {
		return err
	}
	status := execution.RouteStatus(route)
	if !resume {
		switch status {
		case execution.RouteStatusDone:
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("route %s already completed", route.ID))
		case execution.RouteStatusFailed, execution.RouteStatusHalted:
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("route %s is %s; use route resume", route.ID, status))
		}
	}

	txSigner, err := signer.NewLocalSignerFromInputs(flags.keySource, "")
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	if err := checkSignerAddress(txSigner.Address(), route.FromAddress, flags.confirmAddress); err != nil {
		return err
	}

	clients := wallet.SharedClients()
	clients.SetRPCOverrides(s.settings.RPCOverrides)
	evmWallet := wallet.New(txSigner, clients, route.FromChainID, wallet.Options{
		MaxFeeGwei:         flags.maxFeeGwei,
		MaxPriorityFeeGwei: flags.maxPriorityFeeGwei,
		GasMultiplier:      flags.gasMultiplier,
		PollInterval:       flags.pollInterval,
	})
	checker := allowance.New(clients, s.logger)
	engine := execution.NewEngine(execution.ExecutorOptions{
		API:                   s.provider,
		Chains:                s.provider,
		Allowance:             checker,
		Balance:               checker,
		Receipts:              wallet.ReceiptParser{},
		PollInterval:          flags.pollInterval,
		TxWaitTimeout:         flags.stepTimeout,
		HaltBeforeInteraction: flags.haltBeforeSigning,
		Logger:                s.logger,
	})

	progress := out.NewProgress(s.runner.stderr, s.settings.OutputMode)
	settings := execution.Settings{
		SwitchChainHook:  evmWallet.SwitchChainHook(),
		InfiniteApproval: flags.infiniteApproval,
		UpdateCallback: func(updated execution.Route) {
			if err := s.routeStore.Save(updated); err != nil {
				s.logger.Warn("persist route update", "route_id", updated.ID, "error", err)
			}
			progress.Update(updated)
		},
	}
	if flags.acceptRateChanges {
		settings.AcceptExchangeRateUpdateHook = func(context.Context, execution.Step, execution.Step) (bool, error) {
			return true, nil
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stopSignals := s.watchInterrupts(engine, route.ID, cancel)
	defer stopSignals()

	s.logger.Info("executing route", "route_id", route.ID, "steps", len(route.Steps), "signer", txSigner.Address().Hex(), "resume", resume)
	var final execution.Route
	var runErr error
	if resume {
		final, runErr = engine.ResumeRoute(ctx, evmWallet, route, settings)
	} else {
		final, runErr = engine.ExecuteRoute(ctx, evmWallet, route, settings)
	}
	if err := s.routeStore.Save(final); err != nil {
		s.logger.Warn("persist final route", "route_id", final.ID, "error", err)
	}
	if runErr != nil {
		return runErr
	}

	var warnings []string
	if finalStatus := execution.RouteStatus(final); finalStatus != execution.RouteStatusDone {
		warnings = append(warnings, fmt.Sprintf("route %s stopped with status %s; run `routex route resume --route-id %s --yes` to continue", final.ID, finalStatus, final.ID))
	}
	return s.emitSuccess(commandPath, detailRoute(final), warnings, cacheMetaBypass(), nil)
}

// watchInterrupts stops the route at its next interaction point on the first
// SIGINT or SIGTERM and cancels in-flight work on the second.
func (s *runtimeState) watchInterrupts(engine *execution.Engine, routeID string, cancel context.CancelFunc) func() {
	signals := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		received := 0
		for {
			select {
			case <-done:
				return
			case <-signals:
				received++
				if received == 1 {
					s.logger.Warn("interrupt received; stopping at the next safe point, interrupt again to abort", "route_id", routeID)
					engine.StopExecution(routeID)
					continue
				}
				cancel()
				return
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func checkSignerAddress(signerAddr common.Address, routeFrom, confirm string) error {
	if confirm = strings.TrimSpace(confirm); confirm != "" {
		if !common.IsHexAddress(confirm) {
			return clierr.New(clierr.CodeUsage, "--confirm-address must be a valid EVM address")
		}
		if common.HexToAddress(confirm) != signerAddr {
			return clierr.New(clierr.CodeSigner, fmt.Sprintf("signer address %s does not match --confirm-address %s", signerAddr.Hex(), confirm))
		}
	}
	if routeFrom = strings.TrimSpace(routeFrom); routeFrom != "" && common.HexToAddress(routeFrom) != signerAddr {
		return clierr.New(clierr.CodeSigner, fmt.Sprintf("route was planned for %s but the signer is %s", routeFrom, signerAddr.Hex()))
	}
	return nil
}
