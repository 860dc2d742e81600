package migrations

import (
	"github.com/jmoiron/sqlx"
)

// Run creates the database schema for the medicine cabinet backend.
func Run(db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS manufacture (
            manufacture_name TEXT PRIMARY KEY,
            address TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS medicine_cabinet (
            cabinet_id INTEGER PRIMARY KEY,
            location TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS prescription (
            prescription_id TEXT PRIMARY KEY,
            time TEXT,
            doctor TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS medicine (
            national_code TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            manufacture_name TEXT,
            cabinet_id INTEGER,
            manufacture_date TEXT,
            expiry_date TEXT,
            remaining_quantity INTEGER NOT NULL DEFAULT 0 CHECK (remaining_quantity >= 0),
            price REAL,
            FOREIGN KEY(manufacture_name) REFERENCES manufacture(manufacture_name),
            FOREIGN KEY(cabinet_id) REFERENCES medicine_cabinet(cabinet_id)
        );`,
		`CREATE TABLE IF NOT EXISTS otc (
            national_code TEXT PRIMARY KEY,
            direction TEXT,
            FOREIGN KEY(national_code) REFERENCES medicine(national_code)
        );`,
		`CREATE TABLE IF NOT EXISTS prescription_medicine (
            national_code TEXT PRIMARY KEY,
            prescription_id TEXT NOT NULL,
            FOREIGN KEY(national_code) REFERENCES medicine(national_code),
            FOREIGN KEY(prescription_id) REFERENCES prescription(prescription_id)
        );`,
		`CREATE TABLE IF NOT EXISTS member (
            security_id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            gender TEXT,
            age INTEGER,
            weight REAL,
            height REAL,
            underlying_disease TEXT,
            allergen TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS medicine_administration (
            security_id TEXT NOT NULL,
            national_code TEXT NOT NULL,
            dosage TEXT,
            start_time TEXT,
            lasting_time TEXT,
            manufacture_date TEXT,
            PRIMARY KEY(security_id, national_code),
            FOREIGN KEY(security_id) REFERENCES member(security_id),
            FOREIGN KEY(national_code) REFERENCES medicine(national_code)
        );`,
		`CREATE TABLE IF NOT EXISTS prescribe (
            security_id TEXT NOT NULL,
            prescription_id TEXT NOT NULL,
            PRIMARY KEY(security_id, prescription_id),
            FOREIGN KEY(security_id) REFERENCES member(security_id),
            FOREIGN KEY(prescription_id) REFERENCES prescription(prescription_id)
        );`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
