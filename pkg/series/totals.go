package series

import (
	"math"

	"github.com/shishobooks/hondana/pkg/models"
)

// Totals is the reconciled view of a series' size and progress.
type Totals struct {
	OwnedCount  int `json:"owned_count"`
	VolumeCount int `json:"volume_count"`
	Total       int `json:"total"`
	Completion  int `json:"completion"`
}

// ComputeTotals derives the correct total book count and completion percentage
// for a series from its volume ledger. The declared total is only trusted when
// it's at least as large as what the ledger proves exists; an undercounted or
// stale declared total is ignored rather than producing completion above 100%.
//
// Pure function; both the read path and the reconciler call it.
func ComputeTotals(declaredTotal int, volumes []*models.Volume) Totals {
	owned := 0
	for _, v := range volumes {
		if v.Status == models.VolumeStatusOwned {
			owned++
		}
	}
	vcount := len(volumes)

	total := owned
	if vcount > total {
		total = vcount
	}
	if declaredTotal >= total && declaredTotal > 0 {
		total = declaredTotal
	}

	completion := 0
	if total > 0 {
		// total >= owned by construction, so this never exceeds 100.
		completion = int(math.Round(float64(owned) / float64(total) * 100))
	}

	return Totals{
		OwnedCount:  owned,
		VolumeCount: vcount,
		Total:       total,
		Completion:  completion,
	}
}
