package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medcabinet/m/domain"
)

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	var rows []domain.Prescription
	if err := h.db.Select(&rows, `SELECT prescription_id, time, doctor FROM prescription ORDER BY prescription_id`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list prescriptions")
		return
	}

	result := make([]map[string]any, 0, len(rows))
	for _, p := range rows {
		result = append(result, map[string]any{
			"prescription_id": p.PrescriptionID,
			"time":            orUnknown(p.Time),
			"doctor":          p.Doctor,
		})
	}
	respondJSON(w, http.StatusOK, result)
}

type linkedMember struct {
	SecurityID string `db:"security_id" json:"security_id"`
	Name       string `db:"name" json:"name"`
}

type linkedMedicine struct {
	NationalCode string `db:"national_code" json:"national_code"`
	Name         string `db:"name" json:"name"`
}

func (h *Handler) prescriptionDetails(w http.ResponseWriter, r *http.Request) {
	prescriptionID := chi.URLParam(r, "prescription_id")

	var p domain.Prescription
	err := h.db.Get(&p, `SELECT prescription_id, time, doctor FROM prescription WHERE prescription_id = ?`, prescriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "Prescription not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load prescription")
		return
	}

	members := []linkedMember{}
	err = h.db.Select(&members, `SELECT m.security_id, m.name FROM prescribe p
                JOIN member m ON m.security_id = p.security_id
                WHERE p.prescription_id = ? ORDER BY m.security_id`, prescriptionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load prescription members")
		return
	}

	medicines := []linkedMedicine{}
	err = h.db.Select(&medicines, `SELECT med.national_code, med.name FROM prescription_medicine pm
                JOIN medicine med ON med.national_code = pm.national_code
                WHERE pm.prescription_id = ? ORDER BY med.national_code`, prescriptionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load prescription medicines")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"prescription_id": p.PrescriptionID,
		"time":            orUnknown(p.Time),
		"doctor":          p.Doctor,
		"members":         members,
		"medicines":       medicines,
	})
}

type addPrescriptionRequest struct {
	PrescriptionID string   `json:"prescription_id"`
	Time           string   `json:"time"`
	Doctor         string   `json:"doctor"`
	SecurityIDs    []string `json:"security_ids"`
}

// addPrescription records a prescription and its member links. A missing id
// gets a generated one.
func (h *Handler) addPrescription(w http.ResponseWriter, r *http.Request) {
	var req addPrescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Time != "" {
		if _, err := time.Parse(domain.DateLayout, req.Time); err != nil {
			respondError(w, http.StatusBadRequest, "time must be in YYYY-MM-DD format")
			return
		}
	}
	if req.PrescriptionID == "" {
		req.PrescriptionID = uuid.New().String()
	}

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to add prescription")
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO prescription (prescription_id, time, doctor) VALUES (?, ?, ?)`,
		req.PrescriptionID, nullIfBlank(req.Time), nullIfBlank(req.Doctor))
	if err != nil {
		respondError(w, http.StatusConflict, "prescription already exists")
		return
	}
	for _, securityID := range req.SecurityIDs {
		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM member WHERE security_id = ?`, securityID); err != nil || n == 0 {
			respondError(w, http.StatusBadRequest, "unknown member "+securityID)
			return
		}
		if _, err := tx.Exec(`INSERT INTO prescribe (security_id, prescription_id) VALUES (?, ?)`, securityID, req.PrescriptionID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to link prescription")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to add prescription")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"message":         "Prescription added successfully",
		"prescription_id": req.PrescriptionID,
	})
}

func nullIfBlank(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
