package gate

// Code identifies a rejection class. Codes are part of the wire contract:
// callers branch on them and clients render the message verbatim.
type Code string

const (
	CodeInvalidSession     Code = "INVALID_SESSION"
	CodeAgeGateRequired    Code = "AGE_GATE_REQUIRED"
	CodeAnonymousForbidden Code = "ANONYMOUS_FORBIDDEN"
	CodeMatchingNotAllowed Code = "MATCHING_NOT_ALLOWED"
	CodeUnauthorizedAction Code = "UNAUTHORIZED_ACTION"
	CodeUserBlocked        Code = "USER_BLOCKED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeChatExpired        Code = "CHAT_EXPIRED"
)

// MinimumAge is the age bound reported with AGE_GATE_REQUIRED rejections.
const MinimumAge = 18

// Error is the typed rejection every public engine operation returns on
// failure. Only Code, Message, and Context cross the API boundary; storage
// and internal errors never ride along.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is matches another *Error by code, so errors.Is(err, gate.ErrRateLimited)
// works regardless of message or context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidSession     = &Error{Code: CodeInvalidSession}
	ErrAgeGateRequired    = &Error{Code: CodeAgeGateRequired}
	ErrAnonymousForbidden = &Error{Code: CodeAnonymousForbidden}
	ErrMatchingNotAllowed = &Error{Code: CodeMatchingNotAllowed}
	ErrUnauthorizedAction = &Error{Code: CodeUnauthorizedAction}
	ErrUserBlocked        = &Error{Code: CodeUserBlocked}
	ErrRateLimited        = &Error{Code: CodeRateLimited}
	ErrChatExpired        = &Error{Code: CodeChatExpired}
)

// InvalidSession rejects malformed or unresolvable sessions.
func InvalidSession() *Error {
	return &Error{Code: CodeInvalidSession, Message: "Invalid session."}
}

// AgeGateRequired rejects sessions that have not passed age verification.
func AgeGateRequired() *Error {
	return &Error{
		Code:    CodeAgeGateRequired,
		Message: "Age verification required.",
		Context: map[string]any{"minimumAge": MinimumAge},
	}
}

// AnonymousForbidden rejects guests attempting registered-only actions.
func AnonymousForbidden() *Error {
	return &Error{Code: CodeAnonymousForbidden, Message: "Registered account required."}
}

// MatchingNotAllowed rejects swipe and match actions outside date or
// hybrid mode.
func MatchingNotAllowed() *Error {
	return &Error{Code: CodeMatchingNotAllowed, Message: "Matching is not available in Cruise mode."}
}

// Unauthorized rejects an action with a human-readable reason. It is the
// catch-all for malformed input and policy rejections.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorizedAction, Message: message}
}

// UnauthorizedKind rejects a chat kind the session's mode does not allow.
func UnauthorizedKind(mode, chatKind string) *Error {
	return &Error{
		Code:    CodeUnauthorizedAction,
		Message: "Action not allowed in this mode.",
		Context: map[string]any{"mode": mode, "chatKind": chatKind},
	}
}

// UserBlocked rejects interaction across a block with the given message.
func UserBlocked(message string) *Error {
	return &Error{Code: CodeUserBlocked, Message: message}
}

// RateLimited rejects a send that exceeds the sender's sliding window.
func RateLimited() *Error {
	return &Error{Code: CodeRateLimited, Message: "Too many messages. Slow down."}
}

// TooManyReports rejects report filing past the reporter's hourly window.
func TooManyReports() *Error {
	return &Error{Code: CodeRateLimited, Message: "Too many reports. Try again later."}
}

// ChatExpired reports a cruise thread whose messages have all aged out.
func ChatExpired() *Error {
	return &Error{Code: CodeChatExpired, Message: "This chat has expired."}
}
