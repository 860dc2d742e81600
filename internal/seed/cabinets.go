package seed

import (
	"github.com/jmoiron/sqlx"
)

// DefaultCabinets are the four household storage locations created on first
// run. IDs are fixed so existing medicine rows keep pointing at the same spot.
var DefaultCabinets = []struct {
	ID       int64
	Location string
}{
	{1, "客厅药箱"},
	{2, "卧室药箱"},
	{3, "厨房药箱"},
	{4, "浴室药箱"},
}

// Cabinets inserts the default cabinets once, when the table is empty.
// The emptiness check runs inside the transaction so two concurrent calls
// cannot both decide to insert.
func Cabinets(db *sqlx.DB) (int, error) {
	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM medicine_cabinet`); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if count > 0 {
		_ = tx.Rollback()
		return 0, nil
	}
	inserted := 0
	for _, c := range DefaultCabinets {
		if _, err := tx.Exec(`INSERT INTO medicine_cabinet (cabinet_id, location) VALUES (?, ?)`, c.ID, c.Location); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}
