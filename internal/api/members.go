package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medcabinet/m/domain"
)

type memberListItem struct {
	SecurityID string `db:"security_id" json:"security_id"`
	Name       string `db:"name" json:"name"`
	Gender     string `db:"gender" json:"gender"`
	Age        int64  `db:"age" json:"age"`
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	var members []memberListItem
	if err := h.db.Select(&members, `SELECT security_id, name, gender, age FROM member ORDER BY security_id`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list members")
		return
	}
	if members == nil {
		members = []memberListItem{}
	}
	respondJSON(w, http.StatusOK, members)
}

func (h *Handler) memberDetails(w http.ResponseWriter, r *http.Request) {
	securityID := chi.URLParam(r, "security_id")

	var member domain.Member
	err := h.db.Get(&member, `SELECT security_id, name, gender, age, weight, height, underlying_disease, allergen
                FROM member WHERE security_id = ?`, securityID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "Member not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load member")
		return
	}
	respondJSON(w, http.StatusOK, member)
}

type addMemberRequest struct {
	SecurityID        string   `json:"security_id"`
	Name              string   `json:"name"`
	Gender            string   `json:"gender"`
	Age               int64    `json:"age"`
	Weight            *float64 `json:"weight"`
	Height            *float64 `json:"height"`
	UnderlyingDisease *string  `json:"underlying_disease"`
	Allergen          *string  `json:"allergen"`
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SecurityID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "security_id and name are required")
		return
	}

	_, err := h.db.Exec(`INSERT INTO member (security_id, name, gender, age, weight, height, underlying_disease, allergen)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.SecurityID, req.Name, req.Gender, req.Age, req.Weight, req.Height, req.UnderlyingDisease, req.Allergen)
	if err != nil {
		respondError(w, http.StatusConflict, "member already exists")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"message": "Member added successfully"})
}

// deleteMember removes a member together with their dosing records and
// prescription links, in one transaction so no orphan rows survive.
func (h *Handler) deleteMember(w http.ResponseWriter, r *http.Request) {
	securityID := chi.URLParam(r, "security_id")

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete member")
		return
	}
	defer tx.Rollback()

	// Referencing rows go first so the member delete never trips the
	// foreign keys enforced on the production database.
	for _, stmt := range []string{
		`DELETE FROM medicine_administration WHERE security_id = ?`,
		`DELETE FROM prescribe WHERE security_id = ?`,
	} {
		if _, err := tx.Exec(stmt, securityID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to delete member")
			return
		}
	}
	res, err := tx.Exec(`DELETE FROM member WHERE security_id = ?`, securityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete member")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "Member not found")
		return
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete member")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Member deleted successfully"})
}

type memberRecordRow struct {
	MedicineName *string `db:"medicine_name"`
	Dosage       *string `db:"dosage"`
	StartTime    *string `db:"start_time"`
	LastingTime  *string `db:"lasting_time"`
}

func (h *Handler) memberMedicineRecords(w http.ResponseWriter, r *http.Request) {
	securityID := chi.URLParam(r, "security_id")

	var rows []memberRecordRow
	err := h.db.Select(&rows, `SELECT med.name AS medicine_name, ma.dosage, ma.start_time, ma.lasting_time
                FROM medicine_administration ma
                LEFT JOIN medicine med ON med.national_code = ma.national_code
                WHERE ma.security_id = ?
                ORDER BY ma.national_code`, securityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load records")
		return
	}

	records := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		name := "未知药品"
		if row.MedicineName != nil {
			name = *row.MedicineName
		}
		records = append(records, map[string]any{
			"medicine_name": name,
			"dosage":        row.Dosage,
			"start_time":    orUnknown(row.StartTime),
			"lasting_time":  row.LastingTime,
		})
	}
	respondJSON(w, http.StatusOK, records)
}
