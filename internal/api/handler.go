package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"medcabinet/m/domain"
	"medcabinet/m/internal/apperr"
	"medcabinet/m/internal/ledger"
)

type ctxKey string

const ctxUserID ctxKey = "userID"

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db     *sqlx.DB
	ledger *ledger.Ledger
	secret string
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs a Handler.
func New(db *sqlx.DB, led *ledger.Ledger, secret string, logger zerolog.Logger) *Handler {
	return &Handler{db: db, ledger: led, secret: secret, log: logger, now: time.Now}
}

// SetClock overrides the reference clock, for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Post("/reset-password", h.resetPassword)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/medicines", h.listMedicines)
		r.Get("/medicine_details/{national_code}", h.medicineDetails)
		r.Post("/add_medicine", h.addMedicine)
		r.Post("/refill_medicine/{national_code}", h.refillMedicine)
		r.Post("/remove_medicine/{national_code}", h.removeMedicine)
		r.Delete("/delete_medicine/{national_code}", h.deleteMedicine)

		r.Get("/members", h.listMembers)
		r.Get("/member_details/{security_id}", h.memberDetails)
		r.Post("/add_member", h.addMember)
		r.Delete("/delete_member/{security_id}", h.deleteMember)
		r.Get("/member_medicine_records/{security_id}", h.memberMedicineRecords)

		r.Post("/add_dosing_record", h.addDosingRecord)
		r.Get("/current_medications", h.currentMedications)
		r.Get("/historical_medications", h.historicalMedications)

		r.Get("/prescriptions", h.listPrescriptions)
		r.Get("/prescription_details/{prescription_id}", h.prescriptionDetails)
		r.Post("/add_prescription", h.addPrescription)

		r.Get("/manufactures", h.listManufactures)
		r.Get("/check_manufacture/{manufacture_name}", h.checkManufacture)

		r.Post("/init_data", h.initData)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// Authentication helpers

type authClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64) (string, error) {
	claims := authClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Helpers

// orUnknown substitutes the 未知 sentinel for absent values; clients expect the
// literal string, never null.
func orUnknown(val *string) string {
	if val == nil || strings.TrimSpace(*val) == "" {
		return domain.UnknownLabel
	}
	return *val
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondOpError maps ledger/domain error kinds onto HTTP statuses. Store
// errors are never leaked verbatim.
func (h *Handler) respondOpError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("operation failed")
		respondError(w, status, "internal error")
		return
	}
	body := map[string]any{"error": err.Error(), "kind": string(kind)}
	if details := apperr.DetailsOf(err); details != nil {
		body["details"] = details
	}
	respondJSON(w, status, body)
}
