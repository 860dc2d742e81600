package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medcabinet/m/domain"
	"medcabinet/m/internal/ledger"
	"medcabinet/m/internal/seed"
)

type medicineListItem struct {
	NationalCode      string `db:"national_code" json:"national_code"`
	Name              string `db:"name" json:"name"`
	RemainingQuantity int64  `db:"remaining_quantity" json:"remaining_quantity"`
	MedicineType      string `db:"medicine_type" json:"medicine_type"`
}

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	var items []medicineListItem
	err := h.db.Select(&items, `SELECT m.national_code, m.name, m.remaining_quantity,
                CASE
                    WHEN pm.national_code IS NOT NULL THEN 'Prescription'
                    WHEN o.national_code IS NOT NULL THEN 'OTC'
                    ELSE 'Unknown'
                END AS medicine_type
                FROM medicine m
                LEFT JOIN prescription_medicine pm ON pm.national_code = m.national_code
                LEFT JOIN otc o ON o.national_code = m.national_code
                ORDER BY m.national_code`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list medicines")
		return
	}
	if items == nil {
		items = []medicineListItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

type medicineDetailsRow struct {
	domain.Medicine
	CabinetLocation *string `db:"cabinet_location"`
	Direction       *string `db:"direction"`
	PrescriptionID  *string `db:"prescription_id"`
}

func (h *Handler) medicineDetails(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "national_code")

	var row medicineDetailsRow
	err := h.db.Get(&row, `SELECT m.national_code, m.name, m.manufacture_name, m.cabinet_id,
                m.manufacture_date, m.expiry_date, m.remaining_quantity, m.price,
                c.location AS cabinet_location, o.direction, pm.prescription_id
                FROM medicine m
                LEFT JOIN medicine_cabinet c ON c.cabinet_id = m.cabinet_id
                LEFT JOIN otc o ON o.national_code = m.national_code
                LEFT JOIN prescription_medicine pm ON pm.national_code = m.national_code
                WHERE m.national_code = ?`, code)
	if err != nil {
		respondError(w, http.StatusNotFound, "Medicine not found")
		return
	}

	medicineType := string(domain.KindUnknown)
	if row.PrescriptionID != nil {
		medicineType = string(domain.KindPrescription)
	} else if row.Direction != nil || h.hasOTCRow(code) {
		medicineType = string(domain.KindOTC)
	}

	body := map[string]any{
		"national_code":      row.NationalCode,
		"name":               row.Name,
		"medicine_type":      medicineType,
		"manufacture_name":   orUnknown(row.ManufactureName),
		"manufacture_date":   orUnknown(row.ManufactureDate),
		"expiry_date":        orUnknown(row.ExpiryDate),
		"remaining_quantity": row.RemainingQuantity,
		"price":              row.Price,
		"cabinet_id":         row.CabinetID,
		"cabinet_location":   orUnknown(row.CabinetLocation),
	}
	if medicineType == string(domain.KindOTC) {
		body["direction"] = orUnknown(row.Direction)
	}
	if row.PrescriptionID != nil {
		body["prescription_id"] = *row.PrescriptionID
	}
	respondJSON(w, http.StatusOK, body)
}

// hasOTCRow covers OTC rows whose direction is null: the LEFT JOIN alone
// cannot distinguish them from medicines without an extension row.
func (h *Handler) hasOTCRow(code string) bool {
	var n int
	if err := h.db.Get(&n, `SELECT COUNT(*) FROM otc WHERE national_code = ?`, code); err != nil {
		return false
	}
	return n > 0
}

type addMedicineRequest struct {
	NationalCode       string   `json:"national_code"`
	Name               string   `json:"name"`
	MedicineType       string   `json:"medicine_type"`
	ManufactureName    string   `json:"manufacture_name"`
	ManufactureAddress string   `json:"manufacture_address"`
	ManufactureDate    string   `json:"manufacture_date"`
	ExpiryDate         string   `json:"expiry_date"`
	RemainingQuantity  int64    `json:"remaining_quantity"`
	Price              *float64 `json:"price"`
	CabinetID          *int64   `json:"cabinet_id"`
	Direction          string   `json:"direction"`
	PrescriptionID     string   `json:"prescription_id"`
}

func (h *Handler) addMedicine(w http.ResponseWriter, r *http.Request) {
	var req addMedicineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.ledger.AddOrMerge(r.Context(), ledger.AddInput{
		NationalCode:       req.NationalCode,
		Name:               req.Name,
		MedicineType:       req.MedicineType,
		Quantity:           req.RemainingQuantity,
		ManufactureName:    req.ManufactureName,
		ManufactureAddress: req.ManufactureAddress,
		ManufactureDate:    req.ManufactureDate,
		ExpiryDate:         req.ExpiryDate,
		Price:              req.Price,
		CabinetID:          req.CabinetID,
		Direction:          req.Direction,
		PrescriptionID:     req.PrescriptionID,
	})
	if err != nil {
		h.respondOpError(w, err)
		return
	}

	if out.Created {
		respondJSON(w, http.StatusCreated, map[string]any{
			"message":            "Medicine added successfully",
			"remaining_quantity": out.Quantity,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":            "Medicine already exists, quantity updated",
		"remaining_quantity": out.Quantity,
	})
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *Handler) refillMedicine(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "national_code")
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	remaining, err := h.ledger.Refill(r.Context(), code, req.Quantity)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":            "Medicine refilled successfully",
		"remaining_quantity": remaining,
	})
}

func (h *Handler) removeMedicine(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "national_code")
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.ledger.RemoveQuantity(r.Context(), code, req.Quantity)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	if out.Deleted {
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "Medicine depleted and removed",
			"deleted": true,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":            "Medicine quantity updated",
		"deleted":            false,
		"remaining_quantity": out.Remaining,
	})
}

func (h *Handler) deleteMedicine(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "national_code")
	if err := h.ledger.Delete(r.Context(), code); err != nil {
		h.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Medicine deleted successfully"})
}

// Manufacturers

func (h *Handler) listManufactures(w http.ResponseWriter, r *http.Request) {
	var rows []domain.Manufacturer
	if err := h.db.Select(&rows, `SELECT manufacture_name, address FROM manufacture ORDER BY manufacture_name`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list manufactures")
		return
	}
	if rows == nil {
		rows = []domain.Manufacturer{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) checkManufacture(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "manufacture_name")

	var m domain.Manufacturer
	err := h.db.Get(&m, `SELECT manufacture_name, address FROM manufacture WHERE manufacture_name = ?`, name)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"exists": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"exists": true, "manufacture": m})
}

func (h *Handler) initData(w http.ResponseWriter, r *http.Request) {
	inserted, err := seed.Cabinets(h.db)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to initialize data")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":           "Default data initialized",
		"cabinets_inserted": inserted,
	})
}
