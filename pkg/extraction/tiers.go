// Package extraction runs the tiered cascade that turns raw document bytes
// into structured certificate data. Cheap tiers run first; each attempt is
// recorded as an audit row and escalation carries the best attempt forward.
package extraction

import "log/slog"

// Tier names as persisted on audit rows.
const (
	TierMetadata = "tier-0"
	TierPattern  = "tier-0.5"
	TierText     = "tier-1"
	TierTextOCR  = "tier-1.5"
	TierOCR      = "tier-2"
	TierVision   = "tier-3"
	TierHuman    = "tier-4"
)

var tierOrdinals = map[string]int{
	TierMetadata: 0,
	TierPattern:  1,
	TierText:     2,
	TierTextOCR:  3,
	TierOCR:      4,
	TierVision:   5,
	TierHuman:    6,
}

// TierOrdinal maps a tier name to its persisted integer ordinal. Unknown
// names map to the human-review ordinal with a warning.
func TierOrdinal(name string, logger *slog.Logger) int {
	if ord, ok := tierOrdinals[name]; ok {
		return ord
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("unknown extraction tier name", "tier", name)
	return tierOrdinals[TierHuman]
}

// OCR provider labels recorded on the run when text fed the analysis tier.
const (
	ProviderAzureDI    = "AZURE_DI"
	ProviderLocalPDF   = "PDFJS_LOCAL"
	ProviderNone       = ""
	defaultConfidence  = 0.75
	minAnalysisTextLen = 50
)
