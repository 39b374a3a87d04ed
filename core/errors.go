package core

import (
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	MailroomErrorBadInput            = "MAILROOM_BAD_INPUT"
	MailroomErrorSecretMismatch      = "MAILROOM_SECRET_MISMATCH"
	MailroomErrorRateLimited         = "MAILROOM_RATE_LIMITED"
	MailroomErrorCircuitOpen         = "MAILROOM_CIRCUIT_OPEN"
	MailroomErrorProviderUnavailable = "MAILROOM_PROVIDER_UNAVAILABLE"
	MailroomErrorItemNotFound        = "MAILROOM_ITEM_NOT_FOUND"
	MailroomErrorLedgerDegraded      = "MAILROOM_LEDGER_DEGRADED"
	MailroomErrorInternal            = "MAILROOM_INTERNAL_ERROR"
)

func mailroomErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureMailroomErrorEnvelope(richErr)
	}

	// Domain sentinels map before message sniffing so errors.Is survives.
	if errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrItemNotFound) {
		return wrapMailroomError(err, goerrors.CategoryNotFound, MailroomErrorItemNotFound)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "circuit") && strings.Contains(msg, "open"):
		return wrapMailroomError(err, goerrors.CategoryExternal, MailroomErrorCircuitOpen)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return wrapMailroomError(err, goerrors.CategoryRateLimit, MailroomErrorRateLimited)
	case strings.Contains(msg, "not found"):
		return wrapMailroomError(err, goerrors.CategoryNotFound, MailroomErrorItemNotFound)
	case strings.Contains(msg, "secret") && strings.Contains(msg, "mismatch"):
		return wrapMailroomError(err, goerrors.CategoryAuth, MailroomErrorSecretMismatch)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return wrapMailroomError(err, goerrors.CategoryBadInput, MailroomErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureMailroomErrorEnvelope(mapped)
}

// MapError funnels any error into the mailroom error envelope so callers see
// a consistent category + text code surface.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return mailroomErrorMapper(err)
}

// RetryAfter reports the provider-supplied retry-after hint carried in a
// throttled error's metadata. Callers pace redeliveries with it; absent or
// malformed hints report false.
func RetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil || richErr.Metadata == nil {
		return 0, false
	}
	switch v := richErr.Metadata["retry_after_s"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second)), true
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second, true
		}
	}
	return 0, false
}

// wrapMailroomError keeps the source in the chain so sentinel checks with
// errors.Is survive the envelope.
func wrapMailroomError(source error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureMailroomErrorEnvelope(
		goerrors.Wrap(source, category, source.Error()).
			WithTextCode(textCode),
	)
}

func ensureMailroomErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err = err.WithTextCode(textCodeForCategory(err.Category))
	}
	if err.Code == 0 {
		err = err.WithCode(statusForCategory(err.Category))
	}
	return err
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return MailroomErrorBadInput
	case goerrors.CategoryRateLimit:
		return MailroomErrorRateLimited
	case goerrors.CategoryNotFound:
		return MailroomErrorItemNotFound
	case goerrors.CategoryExternal:
		return MailroomErrorProviderUnavailable
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return MailroomErrorSecretMismatch
	default:
		return MailroomErrorInternal
	}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return http.StatusUnauthorized
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
