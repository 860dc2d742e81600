package domain

// Kind classifies a medicine by its extension row.
type Kind string

const (
	KindOTC          Kind = "OTC"
	KindPrescription Kind = "Prescription"
	KindUnknown      Kind = "Unknown"
)

type Medicine struct {
	NationalCode      string   `db:"national_code" json:"national_code"`
	Name              string   `db:"name" json:"name"`
	ManufactureName   *string  `db:"manufacture_name" json:"manufacture_name,omitempty"`
	CabinetID         *int64   `db:"cabinet_id" json:"cabinet_id,omitempty"`
	ManufactureDate   *string  `db:"manufacture_date" json:"manufacture_date,omitempty"`
	ExpiryDate        *string  `db:"expiry_date" json:"expiry_date,omitempty"`
	RemainingQuantity int64    `db:"remaining_quantity" json:"remaining_quantity"`
	Price             *float64 `db:"price" json:"price,omitempty"`
}

type OTC struct {
	NationalCode string  `db:"national_code" json:"national_code"`
	Direction    *string `db:"direction" json:"direction,omitempty"`
}

type PrescriptionMedicine struct {
	NationalCode   string `db:"national_code" json:"national_code"`
	PrescriptionID string `db:"prescription_id" json:"prescription_id"`
}
