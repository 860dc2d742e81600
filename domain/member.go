package domain

type Member struct {
	SecurityID        string   `db:"security_id" json:"security_id"`
	Name              string   `db:"name" json:"name"`
	Gender            string   `db:"gender" json:"gender"`
	Age               int64    `db:"age" json:"age"`
	Weight            *float64 `db:"weight" json:"weight,omitempty"`
	Height            *float64 `db:"height" json:"height,omitempty"`
	UnderlyingDisease *string  `db:"underlying_disease" json:"underlying_disease,omitempty"`
	Allergen          *string  `db:"allergen" json:"allergen,omitempty"`
}
