package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"medcabinet/m/domain"
	"medcabinet/m/internal/ledger"
	"medcabinet/m/internal/migrations"
	"medcabinet/m/internal/seed"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *sqlx.DB, string) {
	t.Helper()
	// Same pragma as the production DSN so the tests see enforced
	// foreign keys, not SQLite's permissive default.
	db, err := sqlx.Connect("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	_, err = seed.Cabinets(db)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO manufacture (manufacture_name, address) VALUES ('同仁堂', '北京市东城区前门大街19号')`)
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	led := ledger.New(db, zerolog.Nop())
	led.SetClock(clock)
	h := New(db, led, "test_secret", zerolog.Nop())
	h.SetClock(clock)

	token, err := h.generateToken(1)
	require.NoError(t, err)
	return h, db, token
}

func doRequest(t *testing.T, h *Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func addTestMedicine(t *testing.T, h *Handler, token, code, name string, qty int64) {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":      code,
		"name":               name,
		"medicine_type":      "OTC",
		"manufacture_name":   "同仁堂",
		"remaining_quantity": qty,
		"direction":          "每日三次，每次1粒",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func addTestMember(t *testing.T, db *sqlx.DB, securityID, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO member (security_id, name, gender, age) VALUES (?, ?, 'M', 35)`, securityID, name)
	require.NoError(t, err)
}

func addTestDosing(t *testing.T, db *sqlx.DB, securityID, code string, start time.Time, lasting string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO medicine_administration (security_id, national_code, dosage, start_time, lasting_time) VALUES (?, ?, '1粒', ?, ?)`,
		securityID, code, start.Format(domain.DateTimeLayout), lasting)
	require.NoError(t, err)
}

func TestAuthFlow(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "家长", "email": "Home@Example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg authResponse
	decodeBody(t, rec, &reg)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "home@example.com", reg.User.Email)

	rec = doRequest(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "home@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "home@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Protected routes require a bearer token.
	rec = doRequest(t, h, http.MethodGet, "/api/medicines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/medicines", reg.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddMedicineEndpoint(t *testing.T) {
	h, _, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)

	// Same code and name merges.
	rec := doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":      "M1",
		"name":               "感冒灵",
		"medicine_type":      "OTC",
		"manufacture_name":   "同仁堂",
		"remaining_quantity": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var merged map[string]any
	decodeBody(t, rec, &merged)
	assert.EqualValues(t, 15, merged["remaining_quantity"])

	// Same code, different name conflicts.
	rec = doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":      "M1",
		"name":               "止痛片",
		"medicine_type":      "OTC",
		"manufacture_name":   "同仁堂",
		"remaining_quantity": 5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Prescription medicine without a prescription id is rejected.
	rec = doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":    "RXM1",
		"name":             "阿莫西林",
		"medicine_type":    "Prescription",
		"manufacture_name": "同仁堂",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown manufacturer without an address is a conflict.
	rec = doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":    "M2",
		"name":             "维生素C",
		"medicine_type":    "OTC",
		"manufacture_name": "不存在的厂家",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMedicineListAndDetails(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)
	_, err := db.Exec(`INSERT INTO prescription (prescription_id, time, doctor) VALUES ('RX-1', '2025-06-01', '王医生')`)
	require.NoError(t, err)
	rec := doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":      "RXM1",
		"name":               "阿莫西林",
		"medicine_type":      "Prescription",
		"manufacture_name":   "同仁堂",
		"prescription_id":    "RX-1",
		"remaining_quantity": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/api/medicines", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []medicineListItem
	decodeBody(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "OTC", list[0].MedicineType)
	assert.Equal(t, "Prescription", list[1].MedicineType)

	// No dates or cabinet were supplied: the details view reports 未知.
	rec = doRequest(t, h, http.MethodGet, "/api/medicine_details/M1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details map[string]any
	decodeBody(t, rec, &details)
	assert.Equal(t, "未知", details["manufacture_date"])
	assert.Equal(t, "未知", details["expiry_date"])
	assert.Equal(t, "未知", details["cabinet_location"])
	assert.Equal(t, "OTC", details["medicine_type"])
	assert.EqualValues(t, 10, details["remaining_quantity"])

	rec = doRequest(t, h, http.MethodGet, "/api/medicine_details/NOPE", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMedicationViews(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "降压药", 100)
	addTestMedicine(t, h, token, "M2", "感冒灵", 20)
	addTestMedicine(t, h, token, "M3", "止咳糖浆", 5)
	addTestMember(t, db, "SEC-1", "张三")
	addTestMember(t, db, "SEC-2", "李四")

	addTestDosing(t, db, "SEC-1", "M1", testNow.AddDate(-1, 0, 0), "长期")
	addTestDosing(t, db, "SEC-1", "M2", testNow.AddDate(0, 0, -40), "7天")
	addTestDosing(t, db, "SEC-2", "M3", testNow.AddDate(0, 0, -3), "abc天")

	rec := doRequest(t, h, http.MethodGet, "/api/current_medications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current []memberMedications
	decodeBody(t, rec, &current)

	// The finished 7-day course is out; the long-term course and the
	// unparsable one are both in.
	require.Len(t, current, 2)
	assert.Equal(t, "张三", current[0].MemberName)
	require.Len(t, current[0].Medications, 1)
	assert.Equal(t, "降压药", current[0].Medications[0]["medicine_name"])
	assert.Equal(t, "未知", current[0].Medications[0]["manufacture_date"])
	assert.Equal(t, "李四", current[1].MemberName)
	require.Len(t, current[1].Medications, 1)
	assert.Equal(t, "止咳糖浆", current[1].Medications[0]["medicine_name"])

	rec = doRequest(t, h, http.MethodGet, "/api/historical_medications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []memberMedications
	decodeBody(t, rec, &history)

	// Only the finished course shows up; the unparsable record is skipped.
	require.Len(t, history, 1)
	assert.Equal(t, "SEC-1", history[0].SecurityID)
	require.Len(t, history[0].Medications, 1)
	med := history[0].Medications[0]
	assert.Equal(t, "感冒灵", med["medicine_name"])
	wantEnd := testNow.AddDate(0, 0, -40).AddDate(0, 0, 7).Format(domain.DateTimeLayout)
	assert.Equal(t, wantEnd, med["end_time"])
}

func TestRemoveAndDeleteStatuses(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)
	addTestMember(t, db, "SEC-1", "张三")
	addTestDosing(t, db, "SEC-1", "M1", testNow.AddDate(0, 0, -2), "30天")

	// More than remaining.
	rec := doRequest(t, h, http.MethodPost, "/api/remove_medicine/M1", token, map[string]any{"quantity": 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Zeroing while a course is active: conflict with blocking members listed.
	rec = doRequest(t, h, http.MethodPost, "/api/remove_medicine/M1", token, map[string]any{"quantity": 10})
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		Details []ledger.ActiveUser `json:"details"`
	}
	decodeBody(t, rec, &conflict)
	require.Len(t, conflict.Details, 1)
	assert.Equal(t, "张三", conflict.Details[0].Name)

	// Partial removal still works.
	rec = doRequest(t, h, http.MethodPost, "/api/remove_medicine/M1", token, map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	decodeBody(t, rec, &out)
	assert.EqualValues(t, 6, out["remaining_quantity"])

	// Delete is blocked too, until the course record goes away.
	rec = doRequest(t, h, http.MethodDelete, "/api/delete_medicine/M1", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := db.Exec(`DELETE FROM medicine_administration WHERE national_code = 'M1'`)
	require.NoError(t, err)
	rec = doRequest(t, h, http.MethodDelete, "/api/delete_medicine/M1", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/api/delete_medicine/M1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/remove_medicine/M1", token, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemberLifecycle(t *testing.T) {
	h, db, token := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/add_member", token, map[string]any{
		"security_id": "SEC-1", "name": "张三", "gender": "M", "age": 35,
		"underlying_disease": "高血压", "allergen": "青霉素",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/api/member_details/SEC-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var member domain.Member
	decodeBody(t, rec, &member)
	assert.Equal(t, "张三", member.Name)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)
	addTestDosing(t, db, "SEC-1", "M1", testNow.AddDate(0, 0, -1), "7天")
	_, err := db.Exec(`INSERT INTO prescription (prescription_id, time, doctor) VALUES ('RX-1', '2025-06-01', '王医生')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO prescribe (prescription_id, security_id) VALUES ('RX-1', 'SEC-1')`)
	require.NoError(t, err)

	rec = doRequest(t, h, http.MethodGet, "/api/member_medicine_records/SEC-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	decodeBody(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "感冒灵", records[0]["medicine_name"])

	// Deleting the member succeeds with foreign keys enforced and cleans
	// up the dosing records and prescription links pointing at them.
	rec = doRequest(t, h, http.MethodDelete, "/api/delete_member/SEC-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM medicine_administration WHERE security_id = 'SEC-1'`))
	assert.Zero(t, n)
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM prescribe WHERE security_id = 'SEC-1'`))
	assert.Zero(t, n)

	rec = doRequest(t, h, http.MethodGet, "/api/member_details/SEC-1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/api/delete_member/SEC-1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddDosingRecordEndpoint(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)
	addTestMember(t, db, "SEC-1", "张三")

	rec := doRequest(t, h, http.MethodPost, "/api/add_dosing_record", token, map[string]any{
		"security_id": "SEC-1", "national_code": "M1", "dosage": "每次1粒", "lasting_time": "7天",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Malformed lasting time never reaches the store.
	rec = doRequest(t, h, http.MethodPost, "/api/add_dosing_record", token, map[string]any{
		"security_id": "SEC-1", "national_code": "M1", "lasting_time": "好几天",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/add_dosing_record", token, map[string]any{
		"security_id": "SEC-404", "national_code": "M1", "lasting_time": "7天",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// One course per member and medicine.
	rec = doRequest(t, h, http.MethodPost, "/api/add_dosing_record", token, map[string]any{
		"security_id": "SEC-1", "national_code": "M1", "lasting_time": "长期",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddDosingRecordStoreFailure(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMedicine(t, h, token, "M1", "感冒灵", 10)
	addTestMember(t, db, "SEC-1", "张三")
	require.NoError(t, db.Close())

	// A broken store is an internal error, not a missing member.
	rec := doRequest(t, h, http.MethodPost, "/api/add_dosing_record", token, map[string]any{
		"security_id": "SEC-1", "national_code": "M1", "lasting_time": "7天",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
}

func TestPrescriptionEndpoints(t *testing.T) {
	h, db, token := newTestHandler(t)

	addTestMember(t, db, "SEC-1", "张三")

	rec := doRequest(t, h, http.MethodPost, "/api/add_prescription", token, map[string]any{
		"time": "2025-06-01", "doctor": "王医生", "security_ids": []string{"SEC-1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	decodeBody(t, rec, &created)
	prescriptionID := created["prescription_id"]
	require.NotEmpty(t, prescriptionID)

	rec = doRequest(t, h, http.MethodPost, "/api/add_medicine", token, map[string]any{
		"national_code":      "RXM1",
		"name":               "阿莫西林",
		"medicine_type":      "Prescription",
		"manufacture_name":   "同仁堂",
		"prescription_id":    prescriptionID,
		"remaining_quantity": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodGet, "/api/prescription_details/"+prescriptionID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details struct {
		PrescriptionID string           `json:"prescription_id"`
		Time           string           `json:"time"`
		Members        []linkedMember   `json:"members"`
		Medicines      []linkedMedicine `json:"medicines"`
	}
	decodeBody(t, rec, &details)
	assert.Equal(t, "2025-06-01", details.Time)
	require.Len(t, details.Members, 1)
	assert.Equal(t, "张三", details.Members[0].Name)
	require.Len(t, details.Medicines, 1)
	assert.Equal(t, "阿莫西林", details.Medicines[0].Name)

	rec = doRequest(t, h, http.MethodGet, "/api/prescription_details/NOPE", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/add_prescription", token, map[string]any{
		"time": "06/01/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitData(t *testing.T) {
	h, db, token := newTestHandler(t)

	// The handler constructor already seeded; the endpoint is a no-op then.
	rec := doRequest(t, h, http.MethodPost, "/api/init_data", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	decodeBody(t, rec, &out)
	assert.EqualValues(t, 0, out["cabinets_inserted"])

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM medicine_cabinet`))
	assert.Equal(t, 4, count)
}
