package domain

// DosingRecord is one dosing episode: a member taking a medicine from a start
// time for a lasting_time expressed as "长期" (long-term) or "N天" (N days).
type DosingRecord struct {
	SecurityID      string  `db:"security_id" json:"security_id"`
	NationalCode    string  `db:"national_code" json:"national_code"`
	Dosage          *string `db:"dosage" json:"dosage,omitempty"`
	StartTime       *string `db:"start_time" json:"start_time,omitempty"`
	LastingTime     *string `db:"lasting_time" json:"lasting_time,omitempty"`
	ManufactureDate *string `db:"manufacture_date" json:"manufacture_date,omitempty"`
}
