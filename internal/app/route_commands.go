package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/id"
	"github.com/ggonzalez94/route-executor/internal/model"
	"github.com/ggonzalez94/route-executor/internal/providers"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newRouteCommand() *cobra.Command {
	root := &cobra.Command{Use: "route", Short: "Plan, execute and track cross-chain routes"}
	root.AddCommand(s.newRoutePlanCommand())
	root.AddCommand(s.newRouteImportCommand())
	root.AddCommand(s.newRouteExecuteCommand("execute"))
	root.AddCommand(s.newRouteExecuteCommand("resume"))
	root.AddCommand(s.newRouteStatusCommand())
	root.AddCommand(s.newRouteListCommand())
	return root
}

func (s *runtimeState) newRoutePlanCommand() *cobra.Command {
	var fromArg, toArg, assetArg, toAssetArg string
	var amountBase, amountDecimal, fromAddress, recipient string
	var slippageBps int64
	var order, fromAmountForGas string
	var limit int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Fetch candidate routes and store them for execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromChain, err := id.ParseChain(fromArg)
			if err != nil {
				return err
			}
			toChain, err := id.ParseChain(toArg)
			if err != nil {
				return err
			}
			fromAsset, err := id.ParseAsset(assetArg, fromChain)
			if err != nil {
				return err
			}
			toAssetInput := strings.TrimSpace(toAssetArg)
			if toAssetInput == "" {
				if fromAsset.Symbol == "" {
					return clierr.New(clierr.CodeUsage, "--to-asset is required when --asset is an address without a known symbol")
				}
				toAssetInput = fromAsset.Symbol
			}
			toAsset, err := id.ParseAsset(toAssetInput, toChain)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "resolve destination asset", err)
			}
			if strings.TrimSpace(amountDecimal) != "" && fromAsset.Decimals == 0 && fromAsset.Symbol == "" {
				return clierr.New(clierr.CodeUsage, "token decimals are unknown for this asset; use --amount in base units")
			}
			base, decimal, err := id.NormalizeAmount(amountBase, amountDecimal, fromAsset.Decimals)
			if err != nil {
				return err
			}
			routeOrder, err := parseRouteOrder(order)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return clierr.New(clierr.CodeUsage, "--limit must be positive")
			}

			req := providers.RoutesRequest{
				FromChain:        fromChain,
				ToChain:          toChain,
				FromAsset:        fromAsset,
				ToAsset:          toAsset,
				AmountBaseUnits:  base,
				AmountDecimal:    decimal,
				FromAddress:      fromAddress,
				ToAddress:        recipient,
				SlippageBps:      slippageBps,
				Order:            routeOrder,
				FromAmountForGas: fromAmountForGas,
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			start := time.Now()
			routes, err := s.provider.GetRoutes(ctx, req)
			statuses := []model.ProviderStatus{{
				Name:      s.provider.Info().Name,
				Status:    statusFromErr(err),
				LatencyMS: time.Since(start).Milliseconds(),
			}}
			s.captureCommandDiagnostics(nil, statuses)
			if err != nil {
				return err
			}
			if len(routes) > limit {
				routes = routes[:limit]
			}
			summaries := make([]model.RouteSummary, 0, len(routes))
			for _, route := range routes {
				if strings.TrimSpace(route.ID) == "" {
					route.ID = uuid.NewString()
				}
				if err := s.routeStore.Save(route); err != nil {
					return clierr.Wrap(clierr.CodeInternal, "store planned route", err)
				}
				summaries = append(summaries, summarizeRoute(route))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summaries, nil, cacheMetaBypass(), statuses)
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "Source chain")
	cmd.Flags().StringVar(&toArg, "to", "", "Destination chain")
	cmd.Flags().StringVar(&assetArg, "asset", "", "Source asset (symbol/address/CAIP-19)")
	cmd.Flags().StringVar(&toAssetArg, "to-asset", "", "Destination asset (defaults to the source symbol)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&fromAddress, "from-address", "", "Sender EVM address")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient address (defaults to --from-address)")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 50, "Max slippage in basis points")
	cmd.Flags().StringVar(&order, "order", string(providers.RouteOrderCheapest), "Route ordering (CHEAPEST|FASTEST)")
	cmd.Flags().StringVar(&fromAmountForGas, "from-amount-for-gas", "", "Source amount to swap into destination gas, in base units")
	cmd.Flags().IntVar(&limit, "limit", 3, "Maximum routes to store")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("from-address")
	return cmd
}

func (s *runtimeState) newRouteImportCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a route object obtained elsewhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			var route execution.Route
			if err := json.Unmarshal(raw, &route); err != nil {
				return clierr.Wrap(clierr.CodeUsage, "decode route json", err)
			}
			if len(route.Steps) == 0 {
				return clierr.New(clierr.CodeUsage, "route has no steps")
			}
			if strings.TrimSpace(route.ID) == "" {
				route.ID = uuid.NewString()
			}
			if _, err := s.routeStore.Get(route.ID); err == nil {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("route %s already exists", route.ID))
			}
			if err := s.routeStore.Save(route); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "store imported route", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeRoute(route), nil, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Route JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (s *runtimeState) newRouteStatusCommand() *cobra.Command {
	var routeID string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a stored route and its step progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := s.routeStore.Get(strings.TrimSpace(routeID))
			if err != nil {
				return err
			}
			detail := detailRoute(route)
			var warnings []string
			var statuses []model.ProviderStatus
			if refresh {
				ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
				defer cancel()
				start := time.Now()
				warnings, err = s.refreshLiveStatus(ctx, route, &detail)
				statuses = []model.ProviderStatus{{
					Name:      s.provider.Info().Name,
					Status:    statusFromErr(err),
					LatencyMS: time.Since(start).Milliseconds(),
				}}
				s.captureCommandDiagnostics(warnings, statuses)
				if err != nil {
					return err
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), detail, warnings, cacheMetaBypass(), statuses)
		},
	}
	cmd.Flags().StringVar(&routeID, "route-id", "", "Stored route id")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Query the routing API for sent but unsettled transfers")
	_ = cmd.MarkFlagRequired("route-id")
	return cmd
}

// refreshLiveStatus asks the routing API about every step whose main
// transaction was sent but has not settled locally. A lookup failure on one
// step becomes a warning unless every lookup fails.
func (s *runtimeState) refreshLiveStatus(ctx context.Context, route execution.Route, detail *model.RouteDetail) ([]string, error) {
	var warnings []string
	var lastErr error
	queried, failed := 0, 0
	for i, step := range route.Steps {
		if step.Execution == nil || step.Execution.Status == execution.StatusDone {
			continue
		}
		main, ok := step.Execution.FindProcess(step.MainProcessType())
		if !ok || main.TxHash == "" {
			continue
		}
		queried++
		resp, err := s.provider.GetStatus(ctx, execution.StatusRequest{
			Bridge:    step.Tool,
			FromChain: step.Action.FromChainID,
			ToChain:   step.Action.ToChainID,
			TxHash:    main.TxHash,
		})
		if err != nil {
			failed++
			lastErr = err
			warnings = append(warnings, fmt.Sprintf("step %d: status lookup failed: %v", i, err))
			continue
		}
		live := &model.LiveStatus{
			Status:           resp.Status,
			Substatus:        string(resp.Substatus),
			SubstatusMessage: resp.SubstatusMessage,
		}
		if live.SubstatusMessage == "" && resp.Substatus != "" {
			live.SubstatusMessage = execution.SubstatusMessage(resp.Status, resp.Substatus)
		}
		if resp.Receiving != nil {
			live.ReceivingTxHash = resp.Receiving.TxHash
			live.ReceivingTxLink = resp.Receiving.TxLink
		}
		detail.Steps[i].Live = live
	}
	if queried > 0 && failed == queried {
		return nil, lastErr
	}
	return warnings, nil
}

func (s *runtimeState) newRouteListCommand() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored routes, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := strings.ToUpper(strings.TrimSpace(status))
			switch filter {
			case "", execution.RouteStatusNotStarted, execution.RouteStatusPending, execution.RouteStatusHalted,
				execution.RouteStatusFailed, execution.RouteStatusDone:
			default:
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported --status %q", status))
			}
			routes, err := s.routeStore.List(filter, limit)
			if err != nil {
				return err
			}
			summaries := make([]model.RouteSummary, 0, len(routes))
			for _, route := range routes {
				summaries = append(summaries, summarizeRoute(route))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summaries, nil, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by route status (NOT_STARTED|PENDING|ACTION_REQUIRED|FAILED|DONE)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum routes to list")
	return cmd
}

func parseRouteOrder(v string) (providers.RouteOrder, error) {
	switch providers.RouteOrder(strings.ToUpper(strings.TrimSpace(v))) {
	case "", providers.RouteOrderCheapest:
		return providers.RouteOrderCheapest, nil
	case providers.RouteOrderFastest:
		return providers.RouteOrderFastest, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported --order %q (expected CHEAPEST|FASTEST)", v))
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read stdin", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read route file", err)
	}
	return raw, nil
}
