package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/store"
)

// stockKeeper lowers stock after an intake and sends the low stock notice
// once per depletion.
type stockKeeper struct {
	meds       *store.MedicationStore
	dispatcher Dispatcher
	threshold  int
	logger     *slog.Logger
}

// stockUnits converts a dose amount into whole stock units. Both are counted
// in the medication's dose unit; a partial unit uses up a whole one.
func stockUnits(amount float64) int {
	if amount <= 0 {
		return 0
	}
	return int(math.Ceil(amount))
}

// consume runs after the intake is already recorded, so failures are logged
// rather than returned.
func (k *stockKeeper) consume(ctx context.Context, medicationID int64, amount float64) {
	med, err := k.meds.DecrementStock(ctx, medicationID, stockUnits(amount))
	if err != nil {
		k.logger.Error("decrement stock", "medication_id", medicationID, "error", err)
		return
	}
	if med == nil || med.Stock == nil || *med.Stock > k.threshold {
		return
	}

	claimed, err := k.meds.ClaimLowStockNotice(ctx, medicationID)
	if err != nil {
		k.logger.Error("claim low stock notice", "medication_id", medicationID, "error", err)
		return
	}
	if !claimed {
		return
	}

	out := k.dispatcher.Dispatch(ctx, model.Intent{
		OwnerID: med.OwnerID,
		Kind:    model.IntentLowStock,
		Payload: model.IntentPayload{
			Title: fmt.Sprintf("%s is running low", med.Name),
			Body:  fmt.Sprintf("%d %s left. Time to refill.", *med.Stock, med.DoseUnit),
			URL:   "/medications",
			Tag:   fmt.Sprintf("low-stock-%d", med.ID),
			Data:  map[string]any{"medicationId": med.ID, "stock": *med.Stock},
		},
	})
	if err := out.Err(); err != nil {
		k.logger.Warn("low stock notice had failures", "medication_id", med.ID, "error", err)
	}
}

// confirm tells the owner an intake was recorded.
func (k *stockKeeper) confirm(ctx context.Context, med *model.Medication, doseID *int64) {
	out := k.dispatcher.Dispatch(ctx, model.Intent{
		OwnerID:        med.OwnerID,
		Kind:           model.IntentConfirmation,
		DoseInstanceID: doseID,
		Payload: model.IntentPayload{
			Title: "Dose recorded",
			Body:  fmt.Sprintf("%s marked as taken.", med.Name),
			URL:   "/doses",
			Tag:   fmt.Sprintf("confirm-%d", med.ID),
		},
	})
	if err := out.Err(); err != nil {
		k.logger.Warn("confirmation had failures", "medication_id", med.ID, "error", err)
	}
}
