package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"medcabinet/m/domain"
	"medcabinet/m/internal/apperr"
)

// AddInput carries everything a medicine registration may supply. Zero-value
// optional fields are "not supplied" and leave existing values untouched on a
// refill-merge.
type AddInput struct {
	NationalCode       string
	Name               string
	MedicineType       string
	Quantity           int64
	ManufactureName    string
	ManufactureAddress string
	ManufactureDate    string
	ExpiryDate         string
	Price              *float64
	CabinetID          *int64
	Direction          string
	PrescriptionID     string
}

type AddOutcome struct {
	Created  bool
	Quantity int64
}

func (in *AddInput) validate() error {
	in.NationalCode = strings.TrimSpace(in.NationalCode)
	in.Name = strings.TrimSpace(in.Name)
	in.ManufactureName = strings.TrimSpace(in.ManufactureName)
	in.PrescriptionID = strings.TrimSpace(in.PrescriptionID)

	if in.NationalCode == "" {
		return apperr.Validation("national_code is required")
	}
	if in.Name == "" {
		return apperr.Validation("name is required")
	}
	if in.MedicineType != string(domain.KindOTC) && in.MedicineType != string(domain.KindPrescription) {
		return apperr.Validation("medicine_type must be OTC or Prescription")
	}
	if in.ManufactureName == "" {
		return apperr.Validation("manufacture_name is required")
	}
	if in.Quantity < 0 {
		return apperr.Validation("remaining_quantity must not be negative")
	}
	if in.MedicineType == string(domain.KindPrescription) && in.PrescriptionID == "" {
		return apperr.Validation("prescription_id is required for prescription medicine")
	}
	for _, d := range []struct{ field, value string }{
		{"manufacture_date", in.ManufactureDate},
		{"expiry_date", in.ExpiryDate},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d.value); err != nil {
			return apperr.Validation("%s %q is not a valid YYYY-MM-DD date", d.field, d.value)
		}
	}
	return nil
}

// AddOrMerge registers a medicine. An unknown national code inserts a new row
// with its extension row; a known code with the same product name merges as a
// refill, adding the quantity and overwriting any supplied attribute; a known
// code with a different name is a conflict.
func (l *Ledger) AddOrMerge(ctx context.Context, in AddInput) (AddOutcome, error) {
	if err := in.validate(); err != nil {
		return AddOutcome{}, err
	}

	var out AddOutcome
	err := l.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := l.getMedicine(tx, in.NationalCode)
		if err != nil {
			return err
		}
		if existing != nil && existing.Name != in.Name {
			return apperr.Conflict("national code %s is already registered as %q", in.NationalCode, existing.Name)
		}

		if err := ensureManufacturer(tx, in.ManufactureName, in.ManufactureAddress); err != nil {
			return err
		}
		if in.MedicineType == string(domain.KindPrescription) {
			var n int
			if err := tx.Get(&n, `SELECT COUNT(*) FROM prescription WHERE prescription_id = ?`, in.PrescriptionID); err != nil {
				return err
			}
			if n == 0 {
				return apperr.Conflict("prescription %s does not exist", in.PrescriptionID)
			}
		}

		if existing == nil {
			if err := insertMedicine(tx, in); err != nil {
				return err
			}
			out = AddOutcome{Created: true, Quantity: in.Quantity}
		} else {
			newQty, err := mergeMedicine(tx, in, existing)
			if err != nil {
				return err
			}
			out = AddOutcome{Quantity: newQty}
		}
		return ensureExtensionRow(tx, in)
	})
	if err != nil {
		return AddOutcome{}, err
	}

	l.log.Info().
		Str("national_code", in.NationalCode).
		Str("medicine_type", in.MedicineType).
		Bool("created", out.Created).
		Int64("remaining_quantity", out.Quantity).
		Msg("medicine registered")
	return out, nil
}

// ensureManufacturer creates the manufacturer when it is unknown and an
// address was supplied; an unknown manufacturer without an address is refused.
func ensureManufacturer(tx *sqlx.Tx, name, address string) error {
	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM manufacture WHERE manufacture_name = ?`, name); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return apperr.Conflict("manufacturer %q is unknown; manufacture_address is required to register it", name)
	}
	_, err := tx.Exec(`INSERT INTO manufacture (manufacture_name, address) VALUES (?, ?)`, name, address)
	return err
}

func insertMedicine(tx *sqlx.Tx, in AddInput) error {
	_, err := tx.Exec(`INSERT INTO medicine (national_code, name, manufacture_name, cabinet_id, manufacture_date, expiry_date, remaining_quantity, price)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.NationalCode, in.Name, in.ManufactureName, in.CabinetID,
		nullIfEmpty(in.ManufactureDate), nullIfEmpty(in.ExpiryDate), in.Quantity, in.Price)
	return err
}

// mergeMedicine is the refill path: quantity accumulates and supplied
// attributes overwrite, everything else is left as it was.
func mergeMedicine(tx *sqlx.Tx, in AddInput, existing *domain.Medicine) (int64, error) {
	newQty := existing.RemainingQuantity + in.Quantity

	sets := []string{"remaining_quantity = ?", "manufacture_name = ?"}
	args := []any{newQty, in.ManufactureName}
	if in.ManufactureDate != "" {
		sets = append(sets, "manufacture_date = ?")
		args = append(args, in.ManufactureDate)
	}
	if in.ExpiryDate != "" {
		sets = append(sets, "expiry_date = ?")
		args = append(args, in.ExpiryDate)
	}
	if in.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *in.Price)
	}
	if in.CabinetID != nil {
		sets = append(sets, "cabinet_id = ?")
		args = append(args, *in.CabinetID)
	}
	args = append(args, in.NationalCode)

	_, err := tx.Exec(`UPDATE medicine SET `+strings.Join(sets, ", ")+` WHERE national_code = ?`, args...)
	if err != nil {
		return 0, err
	}
	return newQty, nil
}

// ensureExtensionRow writes the OTC or prescription extension row, refusing
// to give one medicine both classifications.
func ensureExtensionRow(tx *sqlx.Tx, in AddInput) error {
	kind, err := kindOf(tx, in.NationalCode)
	if err != nil {
		return err
	}
	switch in.MedicineType {
	case string(domain.KindOTC):
		if kind == domain.KindPrescription {
			return apperr.Conflict("medicine %s is already registered as prescription medicine", in.NationalCode)
		}
		if kind == domain.KindUnknown {
			_, err = tx.Exec(`INSERT INTO otc (national_code, direction) VALUES (?, ?)`, in.NationalCode, nullIfEmpty(in.Direction))
			return err
		}
		if in.Direction != "" {
			_, err = tx.Exec(`UPDATE otc SET direction = ? WHERE national_code = ?`, in.Direction, in.NationalCode)
			return err
		}
	case string(domain.KindPrescription):
		if kind == domain.KindOTC {
			return apperr.Conflict("medicine %s is already registered as OTC medicine", in.NationalCode)
		}
		if kind == domain.KindUnknown {
			_, err = tx.Exec(`INSERT INTO prescription_medicine (national_code, prescription_id) VALUES (?, ?)`, in.NationalCode, in.PrescriptionID)
			return err
		}
		_, err = tx.Exec(`UPDATE prescription_medicine SET prescription_id = ? WHERE national_code = ?`, in.PrescriptionID, in.NationalCode)
		return err
	}
	return nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
