package memories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recollectco/recollect/pkg/ledger"
	"github.com/recollectco/recollect/pkg/memstore"
)

// reconcile folds the change events reported by the memory store into the
// ledger inside one transaction. Each applied event captures the row's prior
// state (nil when the row did not exist) and appends exactly one history
// row; unknown event kinds are skipped without failing the batch. Returns
// the number of events applied. On error the whole unit of work rolls back
// and no partial mutation is observable.
func (s *Service) reconcile(ctx context.Context, user *ledger.User, app *ledger.App, metadata map[string]any, events []memstore.Event) (int, error) {
	applied := 0

	err := s.config.Ledger.WithTx(ctx, func(tx ledger.Tx) error {
		for _, event := range events {
			if event.ID == "" || event.Memory == "" {
				s.logger.Warn("skipping incomplete memory store event",
					zap.String("id", event.ID))
				continue
			}

			memID, err := uuid.Parse(event.ID)
			if err != nil {
				s.logger.Warn("skipping event with invalid memory id",
					zap.String("id", event.ID), zap.Error(err))
				continue
			}

			switch event.Kind {
			case memstore.EventAdd, memstore.EventUpdate:
				if err := applyEvent(tx, user, app, memID, event, metadata); err != nil {
					return err
				}
				applied++
			case memstore.EventUnknown:
				// The store may report event kinds this core does not
				// drive (e.g. NOOP, DELETE); they are skipped, not errors.
				s.logger.Debug("skipping unhandled memory store event",
					zap.String("id", event.ID),
					zap.String("event", event.RawKind))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return applied, nil
}

// applyEvent reconciles one ADD or UPDATE event against the ledger row for
// its identifier.
//
// The store's view is authoritative: an ADD for an existing row reactivates
// it, and an UPDATE for a missing row creates it as if it were an ADD (the
// ledger was never informed of the original ADD). Either way the row ends
// active, and one history row records the transition with the prior state
// (nil when there was no row).
func applyEvent(tx ledger.Tx, user *ledger.User, app *ledger.App, memID uuid.UUID, event memstore.Event, metadata map[string]any) error {
	var priorState *ledger.State

	existing, err := tx.GetMemory(memID)
	switch {
	case err == nil:
		st := existing.State
		priorState = &st

		existing.Content = event.Memory
		existing.Metadata = metadata
		existing.State = ledger.StateActive
		if err := tx.UpdateMemory(existing); err != nil {
			return err
		}

	case errors.Is(err, ledger.ErrNotFound):
		if err := tx.CreateMemory(&ledger.Memory{
			ID:       memID,
			UserID:   user.ID,
			AppID:    app.ID,
			Content:  event.Memory,
			Metadata: metadata,
			State:    ledger.StateActive,
		}); err != nil {
			return err
		}

	default:
		return err
	}

	return tx.AppendHistory(&ledger.StatusHistory{
		MemoryID:  memID,
		ChangedBy: user.ID,
		OldState:  priorState,
		NewState:  ledger.StateActive,
	})
}
