package licensing

import (
	"errors"
	"strings"

	"licgate/internal/models"
)

// Коды бизнес-отказов протокола. Клиент ветвится по ним, поэтому менять нельзя.
const (
	CodeInvalidLicense  = "INVALID_LICENSE"
	CodeLicenseExpired  = "LICENSE_EXPIRED"
	CodeLicenseInUse    = "LICENSE_IN_USE"
	CodeInvalidSession  = "INVALID_SESSION"
	CodeSessionConflict = "SESSION_CONFLICT"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeNoActiveSession = "NO_ACTIVE_SESSION"
)

// Причины деактивации сессии; пишутся в deactivated_reason и в error_code журнала.
const (
	ReasonSuperseded       = "SUPERSEDED"
	ReasonHeartbeatTimeout = "HEARTBEAT_TIMEOUT"
	ReasonLicenseInactive  = "LICENSE_INACTIVE"
	ReasonClientLogout     = "CLIENT_LOGOUT"
	ReasonAdminDeactivate  = "ADMIN_DEACTIVATE"
)

var ErrInvalidStatus = errors.New("status must be revoked or expired")

// Rejection — ожидаемый отказ по бизнес-правилам (HTTP 200, success=false).
type Rejection struct {
	Code    string
	Message string
	Data    any
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func reject(code, message string, data any) *Rejection {
	return &Rejection{Code: code, Message: message, Data: data}
}

// AsRejection достаёт Rejection из цепочки ошибок.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// RevokeReason — ADMIN_REVOKE_<STATUS>.
func RevokeReason(status models.LicenseStatus) string {
	return "ADMIN_REVOKE_" + strings.ToUpper(string(status))
}
