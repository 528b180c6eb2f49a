package apperrors

import "fmt"

type ErrorCode string

const (
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeConflict        ErrorCode = "CONFLICT"

	ErrorCodeAlarmAlreadyActive ErrorCode = "ALARM_ALREADY_ACTIVE"
	ErrorCodeAlarmNotActive     ErrorCode = "ALARM_NOT_ACTIVE"

	ErrorCodeCastAlreadyInFlight ErrorCode = "CAST_ALREADY_IN_FLIGHT"
	ErrorCodeNoUsableDevice      ErrorCode = "CAST_NO_USABLE_DEVICE"
	ErrorCodeDiscoveryTimeout    ErrorCode = "CAST_DISCOVERY_TIMEOUT"
	ErrorCodeConnectionTimeout   ErrorCode = "CAST_CONNECTION_TIMEOUT"
	ErrorCodeSessionStartFailed  ErrorCode = "CAST_SESSION_START_FAILED"
	ErrorCodeLoadFailed          ErrorCode = "CAST_LOAD_FAILED"
	ErrorCodeVerificationFailed  ErrorCode = "CAST_VERIFICATION_FAILED"
	ErrorCodeSafetyTimeoutForced ErrorCode = "PLAYBACK_SAFETY_TIMEOUT_FORCED"

	ErrorCodeMediaNotCastable ErrorCode = "MEDIA_NOT_CASTABLE"
	ErrorCodeToneNotFound     ErrorCode = "TONE_NOT_FOUND"

	ErrorCodeAuthPairingExpired ErrorCode = "AUTH_PAIRING_EXPIRED"
	ErrorCodeAuthPairingInvalid ErrorCode = "AUTH_PAIRING_INVALID"
	ErrorCodeAuthTokenExpired   ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid   ErrorCode = "AUTH_TOKEN_INVALID"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAPIError       ErrorType = "api_error"
	ErrorTypeAuthError      ErrorType = "authentication_error"
)

// StripeErrorBody is the serialized error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation *Remediation   `json:"remediation,omitempty"`
}

// AppError is the base error type for both HTTP responses and internal
// casting-path failures that the orchestrator recovers from.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:        errType,
		Code:        string(err.Code),
		Message:     err.Message,
		Details:     err.Details,
		Remediation: err.Remediation,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details, nil)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil, nil)
}

// NewAlreadyActiveError rejects a second concurrent start for an alarm
// id that is already ringing.
func NewAlreadyActiveError(alarmID string) *AppError {
	return NewAppError(ErrorCodeAlarmAlreadyActive,
		fmt.Sprintf("Alarm %s is already active", alarmID),
		409, map[string]any{"alarm_id": alarmID}, nil)
}

// NewAlreadyCastingError rejects a cast start while another one is in
// flight for the same alarm.
func NewAlreadyCastingError(alarmID string) *AppError {
	return NewAppError(ErrorCodeCastAlreadyInFlight,
		fmt.Sprintf("A cast start is already in flight for alarm %s", alarmID),
		409, map[string]any{"alarm_id": alarmID}, nil)
}

// NewNoUsableDeviceError reports that no saved or preferred remote device
// could be resolved for casting.
func NewNoUsableDeviceError() *AppError {
	return NewAppError(ErrorCodeNoUsableDevice,
		"No usable cast device saved",
		503, nil, &Remediation{
			Action:     "discover_devices",
			Endpoint:   "/v1/devices",
			UserAction: "Cast to a device once so it can be saved",
		})
}

// NewDiscoveryTimeoutError reports that the saved device never appeared
// within the discovery poll ceiling.
func NewDiscoveryTimeoutError(deviceID string, polls int) *AppError {
	return NewAppError(ErrorCodeDiscoveryTimeout,
		fmt.Sprintf("Device %s not discovered after %d polls", deviceID, polls),
		504, map[string]any{"device_id": deviceID, "polls": polls}, nil)
}

// NewConnectionTimeoutError reports that a session was not established
// within the connection poll ceiling.
func NewConnectionTimeoutError(deviceID string, polls int) *AppError {
	return NewAppError(ErrorCodeConnectionTimeout,
		fmt.Sprintf("Session with device %s not established after %d polls", deviceID, polls),
		504, map[string]any{"device_id": deviceID, "polls": polls}, nil)
}

// NewSessionStartFailedError wraps a protocol-level session start
// failure code.
func NewSessionStartFailedError(errorCode int) *AppError {
	return NewAppError(ErrorCodeSessionStartFailed,
		fmt.Sprintf("Remote session start failed (code %d)", errorCode),
		502, map[string]any{"error_code": errorCode}, nil)
}

// NewLoadFailedError wraps a media load rejection status.
func NewLoadFailedError(status int) *AppError {
	return NewAppError(ErrorCodeLoadFailed,
		fmt.Sprintf("Remote media load failed (status %d)", status),
		502, map[string]any{"status": status}, nil)
}

// NewVerificationFailedError reports a load that was acknowledged but
// never started playing or buffering.
func NewVerificationFailedError(alarmID string) *AppError {
	return NewAppError(ErrorCodeVerificationFailed,
		fmt.Sprintf("Remote playback for alarm %s could not be verified", alarmID),
		502, map[string]any{"alarm_id": alarmID}, nil)
}

// NewSafetyTimeoutError reports a forced termination by the safety
// timeout.
func NewSafetyTimeoutError(alarmID string) *AppError {
	return NewAppError(ErrorCodeSafetyTimeoutForced,
		fmt.Sprintf("Alarm %s terminated by safety timeout", alarmID),
		500, map[string]any{"alarm_id": alarmID}, nil)
}

// NewMediaNotCastableError reports a media reference that cannot be
// resolved to a URL reachable by a remote device.
func NewMediaNotCastableError(ref string) *AppError {
	return NewAppError(ErrorCodeMediaNotCastable,
		fmt.Sprintf("Media reference %q cannot be resolved to a castable URL", ref),
		422, map[string]any{"ref": ref}, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError("Internal server error")
}
