package usecase

import (
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
)

type fileMatch struct {
	receipt *model.Receipt
	result  *adapter.OCRFileResult
}

// reconcile pairs engine results with receipts by original file name.
// Receipts sharing a file name are consumed in job order, one per result.
// Results naming no remaining receipt are dropped.
func reconcile(members []*model.Receipt, results []adapter.OCRFileResult) ([]fileMatch, []*model.Receipt) {
	byName := make(map[string][]*model.Receipt, len(members))
	for _, r := range members {
		byName[r.OriginalFileName] = append(byName[r.OriginalFileName], r)
	}

	matched := make([]fileMatch, 0, len(results))
	used := make(map[string]struct{}, len(members))
	for i := range results {
		queue := byName[results[i].Filename]
		if len(queue) == 0 {
			continue
		}
		r := queue[0]
		byName[results[i].Filename] = queue[1:]
		used[r.ID] = struct{}{}
		matched = append(matched, fileMatch{receipt: r, result: &results[i]})
	}

	var unmatched []*model.Receipt
	for _, r := range members {
		if _, ok := used[r.ID]; !ok {
			unmatched = append(unmatched, r)
		}
	}
	return matched, unmatched
}

// terminalStatus maps the engine's final status and local failure count onto a job status.
func terminalStatus(remote model.OCRJobStatus, failed int) model.OCRJobStatus {
	switch {
	case remote == model.OCRJobStatusFailed:
		return model.OCRJobStatusFailed
	case failed == 0:
		return model.OCRJobStatusCompleted
	default:
		return model.OCRJobStatusPartial
	}
}
