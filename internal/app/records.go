package app

import (
	"time"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/exec"
	"spl-sniper-bot/internal/report"
)

func rejectionRecord(cand detect.Candidate, reason string) report.Rejection {
	return report.Rejection{
		Time:     time.Now().UTC(),
		Strategy: cand.Strategy,
		Asset:    cand.Asset,
		Side:     string(cand.Side),
		Size:     cand.Size,
		Reason:   reason,
	}
}

func submissionRecord(result exec.SubmissionResult) report.Submission {
	return report.Submission{
		Time:           time.Now().UTC(),
		Asset:          result.Order.Asset,
		Side:           string(result.Order.Side),
		Amount:         result.Order.Amount,
		Status:         string(result.Status),
		Signature:      result.Signature,
		FillPrice:      result.FillPrice,
		FillAmount:     result.FillAmount,
		Error:          result.Error,
		Strategy:       result.Order.Strategy,
		IdempotencyKey: result.Order.IdempotencyKey,
		PriorityFee:    result.Order.PriorityFee,
	}
}

func positionRecord(asset string, quantity, avgEntry, realized float64, closed bool) report.PositionChange {
	return report.PositionChange{
		Time:        time.Now().UTC(),
		Asset:       asset,
		Quantity:    quantity,
		AvgEntry:    avgEntry,
		RealizedPnL: realized,
		Closed:      closed,
	}
}
