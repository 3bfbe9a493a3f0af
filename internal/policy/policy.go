package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

// Commands that sign and broadcast transactions.
var signingCommands = map[string]bool{
	"route execute": true,
	"route resume":  true,
}

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// RequiresConfirmation reports whether commandPath moves funds and therefore
// needs an explicit --yes. commandPath may include the binary name.
func RequiresConfirmation(commandPath string) bool {
	norm := normalize(commandPath)
	norm = strings.TrimPrefix(norm, "routex ")
	return signingCommands[norm]
}

// CheckConfirmed fails signing commands that were not confirmed.
func CheckConfirmed(commandPath string, confirmed bool) error {
	if confirmed || !RequiresConfirmation(commandPath) {
		return nil
	}
	return clierr.New(clierr.CodeUsage, commandPath+" signs transactions with your key; re-run with --yes to confirm")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
