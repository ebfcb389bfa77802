package protocol

// Тела запросов протокола. Поля apiKey/timestamp/signature проверяет reqauth до хендлера.

type ValidateRequest struct {
	LicenseKey    string `json:"licenseKey" validate:"required,max=64"`
	DeviceID      string `json:"deviceId" validate:"required,max=255"`
	DeviceName    string `json:"deviceName" validate:"max=255"`
	AppVersion    string `json:"appVersion" validate:"max=64"`
	SessionSerial string `json:"sessionSerial" validate:"max=128"`
}

type HeartbeatRequest struct {
	LicenseKey    string `json:"licenseKey" validate:"required,max=64"`
	SessionID     string `json:"sessionId" validate:"required,max=64"`
	DeviceID      string `json:"deviceId" validate:"required,max=255"`
	SessionSerial string `json:"sessionSerial" validate:"max=128"`
	AppVersion    string `json:"appVersion" validate:"max=64"`
}

type DeactivateRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
	SessionID  string `json:"sessionId" validate:"required,max=64"`
}

type RequestLoginRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
	DeviceID   string `json:"deviceId" validate:"required,max=255"`
	DeviceName string `json:"deviceName" validate:"max=255"`
}

type DeactivateResponse struct {
	SessionID   string `json:"sessionId"`
	Deactivated bool   `json:"deactivated"` // false — сессия уже была неактивна
}
