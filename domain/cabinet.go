package domain

type Cabinet struct {
	CabinetID int64  `db:"cabinet_id" json:"cabinet_id"`
	Location  string `db:"location" json:"location"`
}

type Manufacturer struct {
	ManufactureName string  `db:"manufacture_name" json:"manufacture_name"`
	Address         *string `db:"address" json:"address,omitempty"`
}
