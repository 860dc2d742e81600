// Package ledger owns medicine stock: it adjusts remaining quantities under a
// per-operation transaction and refuses destructive actions while a medicine
// is in active use. The single-connection SQLite pool serializes concurrent
// operations on the same medicine row, so every read-modify-write on
// remaining_quantity observes a serial order.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"medcabinet/m/domain"
	"medcabinet/m/internal/dosing"
)

type Ledger struct {
	db  *sqlx.DB
	log zerolog.Logger
	now func() time.Time
}

func New(db *sqlx.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: logger, now: time.Now}
}

// SetClock overrides the reference clock, for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// inTx runs fn inside a transaction, rolling back every partial write on any
// error so no entity is ever left half-created.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ActiveUser describes a member currently on a medicine, returned as Conflict
// details when an active course blocks deletion or zeroing.
type ActiveUser struct {
	SecurityID  string `json:"security_id"`
	Name        string `json:"name"`
	LastingTime string `json:"lasting_time"`
}

type dosingRow struct {
	SecurityID  string  `db:"security_id"`
	MemberName  *string `db:"member_name"`
	StartTime   *string `db:"start_time"`
	LastingTime *string `db:"lasting_time"`
}

// activeUsers lists members whose course for this medicine is still running.
// Unclassifiable records count as active: a malformed dosing row must never
// unlock a removal it would otherwise block.
func (l *Ledger) activeUsers(tx *sqlx.Tx, code string) ([]ActiveUser, error) {
	var rows []dosingRow
	err := tx.Select(&rows, `SELECT ma.security_id, m.name AS member_name, ma.start_time, ma.lasting_time
                FROM medicine_administration ma
                LEFT JOIN member m ON m.security_id = ma.security_id
                WHERE ma.national_code = ?`, code)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var active []ActiveUser
	for _, r := range rows {
		var start time.Time
		if r.StartTime != nil {
			start, _ = time.Parse(domain.DateTimeLayout, *r.StartTime)
		}
		lasting := ""
		if r.LastingTime != nil {
			lasting = *r.LastingTime
		}
		if !dosing.ActiveFailOpen(start, lasting, now) {
			continue
		}
		u := ActiveUser{SecurityID: r.SecurityID, LastingTime: lasting}
		if r.MemberName != nil {
			u.Name = *r.MemberName
		}
		active = append(active, u)
	}
	return active, nil
}

func (l *Ledger) getMedicine(tx *sqlx.Tx, code string) (*domain.Medicine, error) {
	var med domain.Medicine
	err := tx.Get(&med, `SELECT national_code, name, manufacture_name, cabinet_id, manufacture_date, expiry_date, remaining_quantity, price
                FROM medicine WHERE national_code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// cascadeDelete removes a medicine with its extension rows and dosing records.
// Cleanup order: extension tables, then dosing records, then the medicine row.
func cascadeDelete(tx *sqlx.Tx, code string) error {
	for _, stmt := range []string{
		`DELETE FROM otc WHERE national_code = ?`,
		`DELETE FROM prescription_medicine WHERE national_code = ?`,
		`DELETE FROM medicine_administration WHERE national_code = ?`,
		`DELETE FROM medicine WHERE national_code = ?`,
	} {
		if _, err := tx.Exec(stmt, code); err != nil {
			return err
		}
	}
	return nil
}

// kindOf reports how a medicine is classified by its extension rows. Both
// rows existing at once is a data fault the write path rejects; reads resolve
// it in favor of Prescription.
func kindOf(tx *sqlx.Tx, code string) (domain.Kind, error) {
	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM prescription_medicine WHERE national_code = ?`, code); err != nil {
		return domain.KindUnknown, err
	}
	if n > 0 {
		return domain.KindPrescription, nil
	}
	if err := tx.Get(&n, `SELECT COUNT(*) FROM otc WHERE national_code = ?`, code); err != nil {
		return domain.KindUnknown, err
	}
	if n > 0 {
		return domain.KindOTC, nil
	}
	return domain.KindUnknown, nil
}
