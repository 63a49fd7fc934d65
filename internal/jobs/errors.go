package jobs

import "fmt"

// ErrorCode is the closed taxonomy surfaced to callers. Extraction never
// leaks raw errors through the polling channel; everything maps to one of
// these codes.
type ErrorCode string

const (
	CodeInvalidURL          ErrorCode = "invalid_url"
	CodeUnsupportedPlatform ErrorCode = "unsupported_platform"
	CodeUnsupportedContent  ErrorCode = "unsupported_content"
	CodePrivacyBlocked      ErrorCode = "privacy_blocked"
	CodeNotFound            ErrorCode = "not_found"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeAPIError            ErrorCode = "api_error"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeExtractionFailed    ErrorCode = "extraction_failed"
	CodeTranscriptFailed    ErrorCode = "transcript_failed"
	CodeInternalError       ErrorCode = "internal_error"
)

// JobError is the typed failure value carried on job records and in
// rejection responses. It implements error for logging convenience but is
// passed around as a value, not thrown.
type JobError struct {
	Code         ErrorCode `json:"code"`
	Message      string    `json:"message"`
	Details      string    `json:"details,omitempty"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
}

func (e *JobError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewJobError builds a JobError with the given code and message.
func NewJobError(code ErrorCode, message string) *JobError {
	return &JobError{Code: code, Message: message}
}

// WithDetails returns a copy of e carrying extra diagnostic detail.
func (e *JobError) WithDetails(details string) *JobError {
	cp := *e
	cp.Details = details
	return &cp
}

// TerminalStatus maps an error code to the terminal status it implies.
func (e *JobError) TerminalStatus() Status {
	switch e.Code {
	case CodeUnsupportedPlatform, CodeUnsupportedContent:
		return StatusUnsupported
	default:
		return StatusFailed
	}
}

// fallbackSuggestions guides users to the manual path when automatic
// extraction is not possible. Every terminal error carries one.
var fallbackSuggestions = map[ErrorCode]string{
	CodeInvalidURL:          "Check the link and paste the full video URL, or create the resource manually.",
	CodeUnsupportedPlatform: "This platform is not supported yet. Create the resource manually and paste the details.",
	CodeUnsupportedContent:  "This kind of video cannot be processed automatically. Create the resource manually.",
	CodePrivacyBlocked:      "The video is private or restricted. Create the resource manually with what you know.",
	CodeNotFound:            "The video could not be found. Verify the link, or create the resource manually.",
	CodeQuotaExceeded:       "The extraction quota is exhausted. Try again later, or create the resource manually.",
	CodeAPIError:            "The provider service is unavailable. Try again later, or create the resource manually.",
	CodeRateLimited:         "Too many requests right now. Wait a moment and retry, or create the resource manually.",
	CodeExtractionFailed:    "Automatic extraction failed. Create the resource manually and fill in the fields.",
	CodeTranscriptFailed:    "The transcript could not be fetched. The rest of the metadata is still available.",
	CodeInternalError:       "Something went wrong on our side. Retry, or create the resource manually.",
}

// FallbackSuggestion returns the user-facing guidance for a code. Unknown
// codes fall back to the internal-error guidance so the caller is never
// left without a next step.
func FallbackSuggestion(code ErrorCode) string {
	if s, ok := fallbackSuggestions[code]; ok {
		return s
	}
	return fallbackSuggestions[CodeInternalError]
}
