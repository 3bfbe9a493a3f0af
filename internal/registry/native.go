package registry

import "strings"

const (
	ZeroAddress          = "0x0000000000000000000000000000000000000000"
	NativePlaceholderEEE = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
)

// IsNativeTokenAddress reports whether addr denotes a chain's native asset
// rather than an ERC-20 contract.
func IsNativeTokenAddress(addr string) bool {
	clean := strings.TrimSpace(addr)
	if clean == "" {
		return true
	}
	return strings.EqualFold(clean, ZeroAddress) || strings.EqualFold(clean, NativePlaceholderEEE)
}
