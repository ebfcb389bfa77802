package protocol

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"licgate/internal/licensing"
	"licgate/internal/logs"
	"licgate/internal/middleware"
	"licgate/internal/models"
)

// Engine — то, что протоколу нужно от движка лицензий.
type Engine interface {
	Validate(ctx context.Context, in licensing.ValidateInput) (*licensing.ValidateResult, error)
	Heartbeat(ctx context.Context, in licensing.HeartbeatInput) (*licensing.HeartbeatResult, error)
	Deactivate(ctx context.Context, licenseKey, sessionID, reason string) (bool, error)
	RequestLogin(ctx context.Context, licenseKey, deviceID, deviceName string) (*licensing.LoginRequestResult, error)
}

type Handler struct {
	engine Engine
	log    *logrus.Entry
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine, log: logs.Component("protocol")}
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Validate(r.Context(), licensing.ValidateInput{
		LicenseKey:    req.LicenseKey,
		DeviceID:      req.DeviceID,
		DeviceName:    req.DeviceName,
		AppVersion:    req.AppVersion,
		SessionSerial: req.SessionSerial,
		Meta:          meta(r),
	})
	h.respond(w, r, res, err)
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Heartbeat(r.Context(), licensing.HeartbeatInput{
		LicenseKey:    req.LicenseKey,
		SessionID:     req.SessionID,
		DeviceID:      req.DeviceID,
		SessionSerial: req.SessionSerial,
		AppVersion:    req.AppVersion,
		Meta:          meta(r),
	})
	h.respond(w, r, res, err)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req DeactivateRequest
	if !decode(w, r, &req) {
		return
	}
	changed, err := h.engine.Deactivate(r.Context(), req.LicenseKey, req.SessionID, licensing.ReasonClientLogout)
	if err != nil {
		h.respond(w, r, nil, err)
		return
	}
	h.respond(w, r, DeactivateResponse{SessionID: req.SessionID, Deactivated: changed}, nil)
}

func (h *Handler) RequestLogin(w http.ResponseWriter, r *http.Request) {
	var req RequestLoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.RequestLogin(r.Context(), req.LicenseKey, req.DeviceID, req.DeviceName)
	h.respond(w, r, res, err)
}

// respond: успех и бизнес-отказ — 200, всё остальное — 500 без подробностей.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err == nil {
		models.WriteOK(w, data)
		return
	}
	if rej, ok := licensing.AsRejection(err); ok {
		models.WriteFail(w, http.StatusOK, rej.Code, rej.Message, rej.Data)
		return
	}
	h.log.WithError(err).WithFields(logrus.Fields{
		"reqid": middleware.GetRequestID(r),
		"path":  r.URL.Path,
	}).Error("request failed")
	models.WriteFail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		models.WriteFail(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body", nil)
		return false
	}
	if err := models.Validate.Struct(dst); err != nil {
		models.WriteFail(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing or invalid fields", models.FieldErrors(err))
		return false
	}
	return true
}

func meta(r *http.Request) licensing.Meta {
	return licensing.Meta{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}
