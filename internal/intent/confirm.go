package intent

import (
	"strings"

	"kompass/internal/types"
)

// ===== YES/NO CONFIRMATION =====

// Confirmation is the outcome of classifying a reply to a pending
// approval request.
type Confirmation string

const (
	ConfirmApprove Confirmation = "approve"
	ConfirmReject  Confirmation = "reject"
	ConfirmUnknown Confirmation = "unknown"
)

// Confirmer classifies free-text yes/no replies. Token lists are
// locale-specific and overridable.
type Confirmer struct {
	Affirmative []string
	Negative    []string
}

// NewConfirmer returns a confirmer with Swedish and English defaults.
func NewConfirmer() *Confirmer {
	return &Confirmer{
		Affirmative: []string{"ja", "japp", "jepp", "ok", "okej", "kör", "absolut", "gärna", "visst", "yes", "y", "sure", "go"},
		Negative:    []string{"nej", "nix", "nä", "inte", "avbryt", "stopp", "no", "n", "cancel", "stop"},
	}
}

// Classify resolves a reply into approve, reject or unknown. The
// whole message must read as a confirmation; a long message with an
// embedded "ja" is not an approval.
func (c *Confirmer) Classify(message string) Confirmation {
	norm := types.NormalizeQuery(message)
	tokens := strings.Fields(norm)
	if len(tokens) == 0 || len(tokens) > 4 {
		return ConfirmUnknown
	}
	affirmative, negative := false, false
	for _, tok := range tokens {
		switch {
		case contains(c.Negative, tok):
			negative = true
		case contains(c.Affirmative, tok):
			affirmative = true
		}
	}
	switch {
	case negative:
		// "nej tack" and mixed replies read as rejection.
		return ConfirmReject
	case affirmative:
		return ConfirmApprove
	default:
		return ConfirmUnknown
	}
}

// LooksLikeConfirmation reports whether the message could plausibly be
// a yes/no reply at all. The turn machine uses this to short-circuit
// into approval resolution instead of classifying a new intent.
func (c *Confirmer) LooksLikeConfirmation(message string) bool {
	return c.Classify(message) != ConfirmUnknown
}

func contains(list []string, tok string) bool {
	for _, v := range list {
		if v == tok {
			return true
		}
	}
	return false
}
