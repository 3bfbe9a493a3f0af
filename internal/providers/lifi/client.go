package lifi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/route-executor/internal/cache"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/httpx"
	"github.com/ggonzalez94/route-executor/internal/id"
	"github.com/ggonzalez94/route-executor/internal/model"
	"github.com/ggonzalez94/route-executor/internal/providers"
	"github.com/ggonzalez94/route-executor/internal/registry"
)

const (
	chainsCacheTTL      = 6 * time.Hour
	chainsCacheMaxStale = 7 * 24 * time.Hour
	defaultSlippageBps  = 50
)

// ChainCache keeps the chain list between runs.
type ChainCache interface {
	Get(key string, maxStale time.Duration) (cache.Result, error)
	Set(key string, value []byte, ttl time.Duration) error
}

type Client struct {
	http       *httpx.Client
	baseURL    string
	apiKey     string
	integrator string
	cache      ChainCache

	mu     sync.Mutex
	chains map[int64]execution.ChainInfo
}

var _ providers.RoutingProvider = (*Client)(nil)

func New(httpClient *httpx.Client, apiKey, integrator string) *Client {
	return &Client{
		http:       httpClient,
		baseURL:    registry.LiFiBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		integrator: strings.TrimSpace(integrator),
	}
}

// SetBaseURL points the client at another API host. Only li.quest hosts and
// loopback addresses are accepted.
func (c *Client) SetBaseURL(baseURL string) error {
	clean := strings.TrimSpace(baseURL)
	if clean == "" {
		return nil
	}
	if !registry.IsAllowedAPIURL(clean) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("api url %q is not an allowed routing endpoint", clean))
	}
	c.baseURL = strings.TrimRight(clean, "/")
	return nil
}

func (c *Client) SetChainCache(store ChainCache) {
	c.cache = store
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "lifi",
		Type:          "routing",
		RequiresKey:   false,
		KeyEnvVarName: "ROUTEX_API_KEY",
		Capabilities: []string{
			"route.plan",
			"route.execute",
			"route.status",
		},
	}
}

type routesRequest struct {
	FromChainID      int64        `json:"fromChainId"`
	FromAmount       string       `json:"fromAmount"`
	FromTokenAddress string       `json:"fromTokenAddress"`
	FromAddress      string       `json:"fromAddress,omitempty"`
	ToChainID        int64        `json:"toChainId"`
	ToTokenAddress   string       `json:"toTokenAddress"`
	ToAddress        string       `json:"toAddress,omitempty"`
	FromAmountForGas string       `json:"fromAmountForGas,omitempty"`
	Options          routeOptions `json:"options"`
}

type routeOptions struct {
	Slippage   float64 `json:"slippage"`
	Order      string  `json:"order,omitempty"`
	Integrator string  `json:"integrator,omitempty"`
}

type routesResponse struct {
	Routes []execution.Route `json:"routes"`
}

func (c *Client) GetRoutes(ctx context.Context, req providers.RoutesRequest) ([]execution.Route, error) {
	sender := strings.TrimSpace(req.FromAddress)
	if sender != "" && !common.IsHexAddress(sender) {
		return nil, clierr.New(clierr.CodeUsage, "route sender must be a valid EVM address")
	}
	recipient := strings.TrimSpace(req.ToAddress)
	if recipient != "" && !common.IsHexAddress(recipient) {
		return nil, clierr.New(clierr.CodeUsage, "route recipient must be a valid EVM address")
	}
	if _, err := normalizeOptionalBaseUnits(req.AmountBaseUnits); err != nil || strings.TrimSpace(req.AmountBaseUnits) == "" {
		return nil, clierr.New(clierr.CodeUsage, "route amount must be a positive integer in base units")
	}
	slippageBps := req.SlippageBps
	if slippageBps <= 0 {
		slippageBps = defaultSlippageBps
	}
	if slippageBps >= 10_000 {
		return nil, clierr.New(clierr.CodeUsage, "slippage bps must be less than 10000")
	}
	fromAmountForGas, err := normalizeOptionalBaseUnits(req.FromAmountForGas)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse gas reserve amount", err)
	}

	body := routesRequest{
		FromChainID:      req.FromChain.EVMChainID,
		FromAmount:       strings.TrimSpace(req.AmountBaseUnits),
		FromTokenAddress: tokenAddress(req.FromAsset.Address),
		FromAddress:      sender,
		ToChainID:        req.ToChain.EVMChainID,
		ToTokenAddress:   tokenAddress(req.ToAsset.Address),
		ToAddress:        firstNonEmpty(recipient, sender),
		FromAmountForGas: fromAmountForGas,
		Options: routeOptions{
			Slippage:   float64(slippageBps) / 10_000,
			Order:      string(req.Order),
			Integrator: c.integrator,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode routes request", err)
	}
	var resp routesResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+registry.LiFiRoutesPath, payload, c.headers(), &resp); err != nil {
		return nil, err
	}

	routes := make([]execution.Route, 0, len(resp.Routes))
	for _, route := range resp.Routes {
		if len(route.Steps) == 0 {
			continue
		}
		for i := range route.Steps {
			route.Steps[i].Execution = nil
		}
		routes = append(routes, route)
	}
	if len(routes) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no routes found from %s on %s to %s on %s",
			assetLabel(req.FromAsset), req.FromChain.Name, assetLabel(req.ToAsset), req.ToChain.Name))
	}
	return routes, nil
}

// GetStepTransaction refreshes the step's quote and returns it with a
// signable transaction request attached.
func (c *Client) GetStepTransaction(ctx context.Context, step execution.Step) (execution.Step, error) {
	req := step.Clone()
	req.Execution = nil
	req.TransactionRequest = nil
	payload, err := json.Marshal(req)
	if err != nil {
		return execution.Step{}, clierr.Wrap(clierr.CodeInternal, "encode step transaction request", err)
	}
	endpoint := c.baseURL + registry.LiFiStepTxPath
	if c.integrator != "" {
		endpoint += "?" + url.Values{registry.LiFiIntegratorParam: {c.integrator}}.Encode()
	}
	var resp execution.Step
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, endpoint, payload, c.headers(), &resp); err != nil {
		return execution.Step{}, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		resp.ID = step.ID
	}
	if resp.TransactionRequest != nil {
		tx := resp.TransactionRequest
		tx.Data = ensureHexPrefix(tx.Data)
		if tx.ChainID != 0 && tx.ChainID != step.Action.FromChainID {
			return execution.Step{}, clierr.New(clierr.CodeTxUnprepared, "step transaction chain does not match source chain")
		}
	}
	resp.Execution = nil
	return resp, nil
}

// GetStatus reads the transfer status of a sent transaction. An unknown hash is
// reported as NOT_FOUND rather than as an error so pollers keep waiting.
func (c *Client) GetStatus(ctx context.Context, req execution.StatusRequest) (execution.StatusResponse, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return execution.StatusResponse{}, clierr.New(clierr.CodeUsage, "status lookup requires a transaction hash")
	}
	vals := url.Values{}
	vals.Set("txHash", strings.TrimSpace(req.TxHash))
	if req.Bridge != "" {
		vals.Set("bridge", req.Bridge)
	}
	if req.FromChain != 0 {
		vals.Set("fromChain", strconv.FormatInt(req.FromChain, 10))
	}
	if req.ToChain != 0 {
		vals.Set("toChain", strconv.FormatInt(req.ToChain, 10))
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+registry.LiFiStatusPath+"?"+vals.Encode(), nil)
	if err != nil {
		return execution.StatusResponse{}, clierr.Wrap(clierr.CodeInternal, "build status request", err)
	}
	c.setHeaders(hReq)
	var resp execution.StatusResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		if typed, ok := clierr.As(err); ok && typed.Code == clierr.CodeNotFound {
			return execution.StatusResponse{Status: "NOT_FOUND"}, nil
		}
		return execution.StatusResponse{}, err
	}
	if resp.Status == "" {
		return execution.StatusResponse{}, clierr.New(clierr.CodeServer, "status response missing status")
	}
	return resp, nil
}

type chainsResponse struct {
	Chains []chainPayload `json:"chains"`
}

type chainPayload struct {
	ID          int64           `json:"id"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	NativeToken execution.Token `json:"nativeToken"`
	Metamask    struct {
		BlockExplorerURLs []string `json:"blockExplorerUrls"`
	} `json:"metamask"`
}

// Chain returns metadata for chainID. The chain list is fetched once per
// client and kept in the chain cache when one is configured.
func (c *Client) Chain(ctx context.Context, chainID int64) (execution.ChainInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chains == nil {
		chains, err := c.loadChains(ctx)
		if err != nil {
			return execution.ChainInfo{}, err
		}
		c.chains = chains
	}
	info, ok := c.chains[chainID]
	if !ok {
		return execution.ChainInfo{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %d is not supported by the routing api", chainID))
	}
	return info, nil
}

func (c *Client) loadChains(ctx context.Context) (map[int64]execution.ChainInfo, error) {
	key := "lifi:chains:" + c.baseURL
	var stale []byte
	if c.cache != nil {
		if res, err := c.cache.Get(key, chainsCacheMaxStale); err == nil && res.Usable() {
			if !res.Stale {
				if chains, err := decodeChains(res.Value); err == nil {
					return chains, nil
				}
			}
			stale = res.Value
		}
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+registry.LiFiChainsPath, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build chains request", err)
	}
	c.setHeaders(hReq)
	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		if stale != nil {
			if chains, decodeErr := decodeChains(stale); decodeErr == nil {
				return chains, nil
			}
		}
		return nil, err
	}
	chains, err := decodeChains(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeServer, "decode chains response", err)
	}
	if c.cache != nil {
		_ = c.cache.Set(key, raw, chainsCacheTTL)
	}
	return chains, nil
}

func decodeChains(raw []byte) (map[int64]execution.ChainInfo, error) {
	var resp chainsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Chains) == 0 {
		return nil, fmt.Errorf("chain list is empty")
	}
	out := make(map[int64]execution.ChainInfo, len(resp.Chains))
	for _, chain := range resp.Chains {
		name := firstNonEmpty(chain.Name, id.ChainName(chain.ID))
		out[chain.ID] = execution.ChainInfo{
			ID:           chain.ID,
			Key:          chain.Key,
			Name:         name,
			NativeToken:  chain.NativeToken,
			ExplorerURLs: chain.Metamask.BlockExplorerURLs,
		}
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{registry.LiFiAPIKeyHeader: c.apiKey}
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
}

func tokenAddress(addr string) string {
	if registry.IsNativeTokenAddress(addr) {
		return registry.ZeroAddress
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func assetLabel(asset id.Asset) string {
	return firstNonEmpty(asset.Symbol, asset.Address)
}

func normalizeOptionalBaseUnits(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "", nil
	}
	amount, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return "", fmt.Errorf("amount must be an integer base-unit value")
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("amount must be greater than zero")
	}
	return amount.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if clean == "" || strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}
