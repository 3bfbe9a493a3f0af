package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestERC20ABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20MinimalABI))
	if err != nil {
		t.Fatalf("parse erc20 abi: %v", err)
	}
	for _, name := range []string{"allowance", "approve", "balanceOf"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Fatalf("expected method %s in erc20 abi", name)
		}
	}
	if _, ok := parsed.Events["Transfer"]; !ok {
		t.Fatal("expected Transfer event in erc20 abi")
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(137); !ok || rpc == "" {
		t.Fatalf("expected polygon rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if rpc, ok := DefaultRPCURL(8453); !ok || rpc == "" {
		t.Fatalf("expected base rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveRPCURL(t *testing.T) {
	override, err := ResolveRPCURL(" https://rpc.example.test ", 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}

	defaultRPC, err := ResolveRPCURL("", 1)
	if err != nil {
		t.Fatalf("resolve with default: %v", err)
	}
	if defaultRPC == "" {
		t.Fatal("expected non-empty default rpc")
	}

	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected missing chain default rpc error")
	}
}

func TestResolveRPCURLFrom(t *testing.T) {
	overrides := map[int64]string{10: "http://127.0.0.1:8545"}
	got, err := ResolveRPCURLFrom(overrides, 10)
	if err != nil || got != "http://127.0.0.1:8545" {
		t.Fatalf("expected override, got %q err=%v", got, err)
	}
	got, err = ResolveRPCURLFrom(overrides, 1)
	if err != nil || got == "" {
		t.Fatalf("expected default for chain without override, got %q err=%v", got, err)
	}
	if _, err := ResolveRPCURLFrom(nil, 999999); err == nil {
		t.Fatal("expected error for unknown chain without override")
	}
}

func TestIsAllowedAPIURL(t *testing.T) {
	if !IsAllowedAPIURL("") {
		t.Fatal("expected empty endpoint to be allowed")
	}
	if !IsAllowedAPIURL(LiFiBaseURL) {
		t.Fatal("expected canonical endpoint to be allowed")
	}
	if !IsAllowedAPIURL("https://staging.li.quest/v1") {
		t.Fatal("expected li.quest subdomain to be allowed")
	}
	if IsAllowedAPIURL("http://li.quest/v1") {
		t.Fatal("did not expect non-https endpoint to be allowed for non-loopback")
	}
	if IsAllowedAPIURL("https://evil-li.quest/v1") {
		t.Fatal("did not expect lookalike host to be allowed")
	}
	if !IsAllowedAPIURL("http://127.0.0.1:8080/v1") {
		t.Fatal("expected loopback endpoint to be allowed for tests/dev")
	}
	if IsAllowedAPIURL("not-a-url") {
		t.Fatal("did not expect malformed endpoint to be allowed")
	}
}

func TestIsNativeTokenAddress(t *testing.T) {
	for _, addr := range []string{"", ZeroAddress, "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"} {
		if !IsNativeTokenAddress(addr) {
			t.Fatalf("expected %q to be native", addr)
		}
	}
	if IsNativeTokenAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174") {
		t.Fatal("did not expect erc20 address to be native")
	}
}

func TestExplorerTxLink(t *testing.T) {
	if got := ExplorerTxLink("https://polygonscan.com", "0xabc"); got != "https://polygonscan.com/tx/0xabc" {
		t.Fatalf("unexpected link: %q", got)
	}
	if got := ExplorerTxLink("https://polygonscan.com/", "0xabc"); got != "https://polygonscan.com/tx/0xabc" {
		t.Fatalf("unexpected link with trailing slash: %q", got)
	}
	if got := ExplorerTxLink("", "0xabc"); got != "" {
		t.Fatalf("expected empty link without explorer, got %q", got)
	}
}
