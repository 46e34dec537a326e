package chat

import (
	"strings"

	"github.com/fabfab/docqa/domain"
)

const noInformationMarker = "don't have enough information"

// Assess labels an answer from its wording and the number of supporting
// chunks. It is a fixed heuristic, not a calibrated probability: an answer
// admitting insufficient information is low, three or more sources is high,
// two is medium and anything else is low.
func Assess(answer string, evidenceCount int) domain.Confidence {
	switch {
	case strings.Contains(strings.ToLower(answer), noInformationMarker):
		return domain.ConfidenceLow
	case evidenceCount >= 3:
		return domain.ConfidenceHigh
	case evidenceCount == 2:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
