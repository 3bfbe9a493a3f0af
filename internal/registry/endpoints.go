package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	// Routing API endpoints.
	LiFiBaseURL         = "https://li.quest/v1"
	LiFiRoutesPath      = "/advanced/routes"
	LiFiStepTxPath      = "/advanced/stepTransaction"
	LiFiStatusPath      = "/status"
	LiFiChainsPath      = "/chains"
	LiFiAPIKeyHeader    = "x-lifi-api-key"
	LiFiIntegratorParam = "integrator"
	liFiAllowedHostRoot = "li.quest"
)

// IsAllowedAPIURL reports whether a routing API base URL override is acceptable:
// https on a li.quest host, or http(s) on a loopback host for local testing.
func IsAllowedAPIURL(endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(host) {
		return scheme == "http" || scheme == "https"
	}
	if scheme != "https" {
		return false
	}
	return host == liFiAllowedHostRoot || strings.HasSuffix(host, "."+liFiAllowedHostRoot)
}

// ExplorerTxLink joins an explorer base URL and a transaction hash.
func ExplorerTxLink(explorerBase, txHash string) string {
	base := strings.TrimSpace(explorerBase)
	hash := strings.TrimSpace(txHash)
	if base == "" || hash == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "tx/" + hash
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
