package handler

import (
	"errors"
	"net/http"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

const (
	linkExpiredOrUsedMessage = "The onboarding link is used or expired!"
	internalErrorMessage     = "internal server error"
)

// toHTTPError はドメインエラーをステータスコードとクライアント向けメッセージに変換します。
// 想定外のエラーは原因を隠して 500 を返します。
func toHTTPError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, onboarding.ErrInvalidEmail),
		errors.Is(err, onboarding.ErrInvalidName),
		errors.Is(err, onboarding.ErrInvalidExpireDate),
		errors.Is(err, onboarding.ErrEmptyBatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, onboarding.ErrInvalidID):
		return http.StatusBadRequest, onboarding.ErrInvalidID.Error()
	case errors.Is(err, onboarding.ErrEmailAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, onboarding.ErrUserNotFound):
		return http.StatusNotFound, onboarding.ErrUserNotFound.Error()
	case errors.Is(err, onboarding.ErrDeleteFailed):
		return http.StatusNotFound, onboarding.ErrDeleteFailed.Error()
	case errors.Is(err, onboarding.ErrLinkExpiredOrUsed):
		return http.StatusGone, linkExpiredOrUsedMessage
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}
