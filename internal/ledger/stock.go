package ledger

import (
	"context"

	"github.com/jmoiron/sqlx"

	"medcabinet/m/internal/apperr"
)

// Refill adds stock to an existing medicine.
func (l *Ledger) Refill(ctx context.Context, code string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, apperr.Validation("refill quantity must be positive, got %d", qty)
	}

	var remaining int64
	err := l.inTx(ctx, func(tx *sqlx.Tx) error {
		med, err := l.getMedicine(tx, code)
		if err != nil {
			return err
		}
		if med == nil {
			return apperr.NotFound("medicine %s does not exist", code)
		}
		remaining = med.RemainingQuantity + qty
		_, err = tx.Exec(`UPDATE medicine SET remaining_quantity = ? WHERE national_code = ?`, remaining, code)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.log.Info().Str("national_code", code).Int64("added", qty).Int64("remaining_quantity", remaining).Msg("medicine refilled")
	return remaining, nil
}

type RemoveOutcome struct {
	// Deleted is true when the removal emptied the stock and the medicine row
	// was cascaded away.
	Deleted   bool
	Remaining int64
}

// RemoveQuantity takes stock out of a medicine. Draining the stock to exactly
// zero deletes the medicine with its extension rows and dosing records, unless
// a member is still on an active course, in which case nothing changes.
func (l *Ledger) RemoveQuantity(ctx context.Context, code string, qty int64) (RemoveOutcome, error) {
	if qty <= 0 {
		return RemoveOutcome{}, apperr.Validation("remove quantity must be positive, got %d", qty)
	}

	var out RemoveOutcome
	err := l.inTx(ctx, func(tx *sqlx.Tx) error {
		med, err := l.getMedicine(tx, code)
		if err != nil {
			return err
		}
		if med == nil {
			return apperr.NotFound("medicine %s does not exist", code)
		}
		if qty > med.RemainingQuantity {
			return apperr.Validation("cannot remove %d of medicine %s: only %d remaining", qty, code, med.RemainingQuantity)
		}

		remaining := med.RemainingQuantity - qty
		if remaining > 0 {
			if _, err := tx.Exec(`UPDATE medicine SET remaining_quantity = ? WHERE national_code = ?`, remaining, code); err != nil {
				return err
			}
			out = RemoveOutcome{Remaining: remaining}
			return nil
		}

		users, err := l.activeUsers(tx, code)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return apperr.Conflict("medicine %s is being taken by %d member(s) and cannot be emptied", code, len(users)).WithDetails(users)
		}
		if err := cascadeDelete(tx, code); err != nil {
			return err
		}
		out = RemoveOutcome{Deleted: true}
		return nil
	})
	if err != nil {
		return RemoveOutcome{}, err
	}

	l.log.Info().Str("national_code", code).Int64("removed", qty).Bool("deleted", out.Deleted).Int64("remaining_quantity", out.Remaining).Msg("medicine stock removed")
	return out, nil
}

// Delete removes a medicine unconditionally unless an active course blocks it,
// cascading through extension rows and dosing records in one transaction.
func (l *Ledger) Delete(ctx context.Context, code string) error {
	err := l.inTx(ctx, func(tx *sqlx.Tx) error {
		med, err := l.getMedicine(tx, code)
		if err != nil {
			return err
		}
		if med == nil {
			return apperr.NotFound("medicine %s does not exist", code)
		}

		users, err := l.activeUsers(tx, code)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return apperr.Conflict("medicine %s is being taken by %d member(s) and cannot be deleted", code, len(users)).WithDetails(users)
		}
		return cascadeDelete(tx, code)
	})
	if err != nil {
		return err
	}

	l.log.Info().Str("national_code", code).Msg("medicine deleted")
	return nil
}
