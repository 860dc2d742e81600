package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"medcabinet/m/domain"
	"medcabinet/m/internal/apperr"
	"medcabinet/m/internal/dosing"
)

type medicationRow struct {
	SecurityID      string  `db:"security_id"`
	MemberName      string  `db:"member_name"`
	MedicineName    string  `db:"medicine_name"`
	NationalCode    string  `db:"national_code"`
	Dosage          *string `db:"dosage"`
	StartTime       *string `db:"start_time"`
	LastingTime     *string `db:"lasting_time"`
	ManufactureDate *string `db:"manufacture_date"`
}

func (row medicationRow) start() time.Time {
	if row.StartTime == nil {
		return time.Time{}
	}
	start, err := time.Parse(domain.DateTimeLayout, *row.StartTime)
	if err != nil {
		return time.Time{}
	}
	return start
}

func (row medicationRow) lasting() string {
	if row.LastingTime == nil {
		return ""
	}
	return *row.LastingTime
}

func (h *Handler) medicationRows() ([]medicationRow, error) {
	var rows []medicationRow
	err := h.db.Select(&rows, `SELECT ma.security_id, mb.name AS member_name, med.name AS medicine_name,
                ma.national_code, ma.dosage, ma.start_time, ma.lasting_time, ma.manufacture_date
                FROM medicine_administration ma
                JOIN member mb ON mb.security_id = ma.security_id
                JOIN medicine med ON med.national_code = ma.national_code
                ORDER BY ma.security_id, ma.national_code`)
	return rows, err
}

type memberMedications struct {
	MemberName  string           `json:"member_name"`
	SecurityID  string           `json:"security_id"`
	Medications []map[string]any `json:"medications"`
}

// groupByMember preserves the row order: one entry per member, medications in
// national-code order.
func groupByMember(rows []medicationRow, build func(medicationRow) map[string]any, keep func(medicationRow) bool) []memberMedications {
	result := make([]memberMedications, 0)
	index := make(map[string]int)
	for _, row := range rows {
		if !keep(row) {
			continue
		}
		i, ok := index[row.SecurityID]
		if !ok {
			i = len(result)
			index[row.SecurityID] = i
			result = append(result, memberMedications{MemberName: row.MemberName, SecurityID: row.SecurityID})
		}
		result[i].Medications = append(result[i].Medications, build(row))
	}
	return result
}

// currentMedications lists every course still running, grouped by member.
// Records that cannot be classified are included: nothing is silently hidden
// from the active-medication view.
func (h *Handler) currentMedications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.medicationRows()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load medication records")
		return
	}

	now := h.now()
	result := groupByMember(rows,
		func(row medicationRow) map[string]any {
			return map[string]any{
				"medicine_name":    row.MedicineName,
				"national_code":    row.NationalCode,
				"start_time":       orUnknown(row.StartTime),
				"dosage":           row.Dosage,
				"lasting_time":     row.LastingTime,
				"manufacture_date": orUnknown(row.ManufactureDate),
			}
		},
		func(row medicationRow) bool {
			start := row.start()
			if !start.IsZero() && start.After(now) {
				return false
			}
			return dosing.ActiveFailOpen(start, row.lasting(), now)
		})

	respondJSON(w, http.StatusOK, result)
}

// historicalMedications lists completed courses grouped by member. Records
// that cannot be classified are skipped: the history never claims a course
// ended without proof.
func (h *Handler) historicalMedications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.medicationRows()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load medication records")
		return
	}

	now := h.now()
	result := groupByMember(rows,
		func(row medicationRow) map[string]any {
			endTime := domain.UnknownLabel
			if end, ok := dosing.EndTime(row.start(), row.lasting()); ok {
				endTime = end.Format(domain.DateTimeLayout)
			}
			return map[string]any{
				"medicine_name": row.MedicineName,
				"national_code": row.NationalCode,
				"start_time":    orUnknown(row.StartTime),
				"end_time":      endTime,
				"dosage":        row.Dosage,
				"lasting_time":  row.LastingTime,
			}
		},
		func(row medicationRow) bool {
			return dosing.HistoricalFailClosed(row.start(), row.lasting(), now)
		})

	respondJSON(w, http.StatusOK, result)
}

type addDosingRequest struct {
	SecurityID   string `json:"security_id"`
	NationalCode string `json:"national_code"`
	Dosage       string `json:"dosage"`
	StartTime    string `json:"start_time"`
	LastingTime  string `json:"lasting_time"`
}

// addDosingRecord registers a new course. Lasting time goes through the same
// parser as classification, so malformed durations are rejected before they
// are ever stored.
func (h *Handler) addDosingRecord(w http.ResponseWriter, r *http.Request) {
	var req addDosingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SecurityID == "" || req.NationalCode == "" {
		h.respondOpError(w, apperr.Validation("security_id and national_code are required"))
		return
	}
	if _, err := dosing.ParseLasting(req.LastingTime); err != nil {
		h.respondOpError(w, apperr.Validation("invalid lasting_time: %v", err))
		return
	}

	start := h.now().Format(domain.DateTimeLayout)
	if req.StartTime != "" {
		if _, err := time.Parse(domain.DateTimeLayout, req.StartTime); err != nil {
			h.respondOpError(w, apperr.Validation("start_time %q is not a valid YYYY-MM-DD HH:MM:SS timestamp", req.StartTime))
			return
		}
		start = req.StartTime
	}

	tx, err := h.db.BeginTxx(r.Context(), nil)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	defer tx.Rollback()

	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM member WHERE security_id = ?`, req.SecurityID); err != nil {
		h.respondOpError(w, err)
		return
	}
	if n == 0 {
		h.respondOpError(w, apperr.NotFound("member %s does not exist", req.SecurityID))
		return
	}

	var med domain.Medicine
	err = tx.Get(&med, `SELECT national_code, name, manufacture_date, remaining_quantity FROM medicine WHERE national_code = ?`, req.NationalCode)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondOpError(w, apperr.NotFound("medicine %s does not exist", req.NationalCode))
		return
	}
	if err != nil {
		h.respondOpError(w, err)
		return
	}

	if err := tx.Get(&n, `SELECT COUNT(*) FROM medicine_administration WHERE security_id = ? AND national_code = ?`, req.SecurityID, req.NationalCode); err != nil {
		h.respondOpError(w, err)
		return
	}
	if n > 0 {
		h.respondOpError(w, apperr.Conflict("member %s already has a course for medicine %s", req.SecurityID, req.NationalCode))
		return
	}

	// The dosing row carries the medicine's manufacture date at course start.
	_, err = tx.Exec(`INSERT INTO medicine_administration (security_id, national_code, dosage, start_time, lasting_time, manufacture_date)
                VALUES (?, ?, ?, ?, ?, ?)`,
		req.SecurityID, req.NationalCode, req.Dosage, start, req.LastingTime, med.ManufactureDate)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"message": "Dosing record added successfully"})
}
