package admin

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"licgate/internal/licensing"
	"licgate/internal/logs"
	"licgate/internal/models"
	"licgate/internal/repo"
)

type Handler struct {
	d   Dependencies
	log *logrus.Entry
}

func NewHandler(d Dependencies) *Handler {
	return &Handler{d: d, log: logs.Component("admin")}
}

type CreateLicenseRequest struct {
	Key          string    `json:"key" validate:"omitempty,max=64"`
	Email        string    `json:"email" validate:"required,email,max=255"`
	Plan         string    `json:"plan" validate:"required,max=64"`
	GraceAllowed bool      `json:"grace_allowed"`
	ValidDays    int       `json:"valid_days" validate:"omitempty,min=1,max=3650"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type RenewRequest struct {
	ValidDays int       `json:"valid_days" validate:"omitempty,min=1,max=3650"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RevokeRequest struct {
	Status models.LicenseStatus `json:"status" validate:"required,oneof=revoked expired"`
}

// ---------- Licenses ----------

func (h *Handler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	rows, err := h.d.Licenses.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"items": rows, "limit": limit, "offset": offset})
}

func (h *Handler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequest
	if !decode(w, r, &req) {
		return
	}
	now := h.d.Now().UTC()
	l := &models.License{
		Key:          strings.TrimSpace(req.Key),
		Email:        req.Email,
		Plan:         req.Plan,
		Status:       models.LicenseActive,
		GraceAllowed: req.GraceAllowed,
		ExpiresAt:    expiry(now, req.ValidDays, req.ExpiresAt),
	}
	if !l.ExpiresAt.After(now) {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "valid_days or a future expires_at is required", nil)
		return
	}
	if l.Key == "" {
		key, err := GenerateKey(h.d.KeyPrefix)
		if err != nil {
			h.fail(w, err)
			return
		}
		l.Key = key
	}
	if err := h.d.Licenses.Create(r.Context(), l); err != nil {
		h.fail(w, err)
		return
	}
	h.log.WithFields(logrus.Fields{"license": l.Key, "plan": l.Plan}).Info("license created")
	models.WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	l, err := h.d.Licenses.GetByKey(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) RenewLicense(w http.ResponseWriter, r *http.Request) {
	var req RenewRequest
	if !decode(w, r, &req) {
		return
	}
	now := h.d.Now().UTC()
	exp := expiry(now, req.ValidDays, req.ExpiresAt)
	if !exp.After(now) {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "valid_days or a future expires_at is required", nil)
		return
	}
	l, err := h.d.Licenses.Renew(r.Context(), mux.Vars(r)["key"], exp)
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.d.Engine.RevokeLicense(r.Context(), mux.Vars(r)["key"], req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"status": req.Status, "sessions_deactivated": n})
}

func (h *Handler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Licenses.Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- Sessions ----------

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, err := h.d.Licenses.GetByKey(r.Context(), key); err != nil {
		h.fail(w, err)
		return
	}
	rows, err := h.d.Sessions.ListByLicense(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if rows == nil {
		rows = []models.Session{}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *Handler) DeactivateSession(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	changed, err := h.d.Engine.Deactivate(r.Context(), v["key"], v["sid"], licensing.ReasonAdminDeactivate)
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"session_id": v["sid"], "deactivated": changed})
}

func (h *Handler) DeactivateAll(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, err := h.d.Licenses.GetByKey(r.Context(), key); err != nil {
		h.fail(w, err)
		return
	}
	n, err := h.d.Engine.DeactivateAll(r.Context(), key, licensing.ReasonAdminDeactivate)
	if err != nil {
		h.fail(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"sessions_deactivated": n})
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := h.d.Audit.ListByLicense(r.Context(), mux.Vars(r)["key"], queryInt(r, "limit", 200))
	if err != nil {
		h.fail(w, err)
		return
	}
	if rows == nil {
		rows = []models.ValidationLog{}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// ---------- helpers ----------

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if rej, ok := licensing.AsRejection(err); ok {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", rej.Message, map[string]any{"code": rej.Code})
		return
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "license not found", nil)
	case errors.Is(err, repo.ErrDuplicateKey):
		models.WriteProblem(w, http.StatusConflict, "Conflict", "license key already exists", nil)
	case errors.Is(err, repo.ErrNotRevoked), errors.Is(err, repo.ErrLicenseRevoked):
		models.WriteProblem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	case errors.Is(err, licensing.ErrInvalidStatus):
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
	default:
		h.log.WithError(err).Error("admin request failed")
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected server error", nil)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", nil)
		return false
	}
	if err := models.Validate.Struct(dst); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "validation failed", models.FieldErrors(err))
		return false
	}
	return true
}

func expiry(now time.Time, days int, at time.Time) time.Time {
	if days > 0 {
		return now.Add(time.Duration(days) * 24 * time.Hour)
	}
	return at.UTC()
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v >= 0 {
		return v
	}
	return def
}

// без 0/O и 1/I, чтобы ключ можно было продиктовать
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateKey — PREFIX-XXXX-XXXX-XXXX-XXXX.
func GenerateKey(prefix string) (string, error) {
	groups := make([]string, 0, 5)
	if prefix != "" {
		groups = append(groups, prefix)
	}
	base := big.NewInt(int64(len(keyAlphabet)))
	for g := 0; g < 4; g++ {
		var b [4]byte
		for i := range b {
			n, err := rand.Int(rand.Reader, base)
			if err != nil {
				return "", err
			}
			b[i] = keyAlphabet[n.Int64()]
		}
		groups = append(groups, string(b[:]))
	}
	return strings.Join(groups, "-"), nil
}
