package domain

type Prescription struct {
	PrescriptionID string  `db:"prescription_id" json:"prescription_id"`
	Time           *string `db:"time" json:"time,omitempty"`
	Doctor         *string `db:"doctor" json:"doctor,omitempty"`
}

// Prescribe links a prescription to the member it was issued for.
type Prescribe struct {
	SecurityID     string `db:"security_id" json:"security_id"`
	PrescriptionID string `db:"prescription_id" json:"prescription_id"`
}
