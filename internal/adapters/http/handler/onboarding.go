package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

const maxBodyBytes = 1 << 20

var errBadRequestBody = errors.New("invalid request body")

// OnboardingHandler はオンボーディング API の HTTP 実装です。
type OnboardingHandler struct {
	svc      onboarding.UseCase
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewOnboardingHandler は OnboardingHandler を生成します。
func NewOnboardingHandler(svc onboarding.UseCase, logger zerolog.Logger) *OnboardingHandler {
	return &OnboardingHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes は /users 配下のルートを登録します。
func (h *OnboardingHandler) MountRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.createUsers)
		r.Get("/", h.getAllUsers)
		r.Get("/check/{token}", h.checkToken)
		r.Get("/{id}", h.getUser)
		r.Put("/{id}", h.updateUser)
		r.Delete("/{id}", h.deleteUser)
	})
}

func (h *OnboardingHandler) createUsers(w http.ResponseWriter, r *http.Request) {
	var body []createUserRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	inputs := make([]onboarding.CreateUserInput, 0, len(body))
	for i, item := range body {
		if err := h.validate.Struct(item); err != nil {
			h.writeError(w, r, fmt.Errorf("users[%d]: %w", i, validationError(err)))
			return
		}
		expire, err := parseExpireDate(item.ExpireDate)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("users[%d]: %w", i, err))
			return
		}
		inputs = append(inputs, onboarding.CreateUserInput{
			Name:       item.Name,
			Email:      item.Email,
			ExpireDate: expire,
		})
	}

	if _, err := h.svc.CreateUsers(r.Context(), inputs); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "success"})
}

func (h *OnboardingHandler) getAllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.GetAllUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(users))
}

func (h *OnboardingHandler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetUser(r.Context(), onboarding.GetUserInput{ID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

// updateUser はメールアドレスで対象を特定します。パスの id は参照しません。
func (h *OnboardingHandler) updateUser(w http.ResponseWriter, r *http.Request) {
	var body updateUserRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.writeError(w, r, validationError(err))
		return
	}
	expire, err := parseExpireDate(body.ExpireDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.svc.UpdateUser(r.Context(), onboarding.UpdateUserInput{
		Name:       body.Name,
		Email:      body.Email,
		ExpireDate: expire,
		Used:       body.Used,
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "success"})
}

func (h *OnboardingHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.DeleteUser(r.Context(), onboarding.DeleteUserInput{ID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: id})
}

func (h *OnboardingHandler) checkToken(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.ValidateToken(r.Context(), onboarding.ValidateTokenInput{Token: chi.URLParam(r, "token")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

func (h *OnboardingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequestBody) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	status, message := toHTTPError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Bool("store_failure", onboarding.IsStoreFailure(err)).
			Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}

// validationError は validator のエラーを最初に失敗した項目に対応するドメインエラーへ変換します。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}

	switch fe := verrs[0]; fe.Field() {
	case "Name":
		return onboarding.ErrInvalidName
	case "Email":
		return onboarding.ErrInvalidEmail
	case "ExpireDate":
		return onboarding.ErrInvalidExpireDate
	default:
		return fmt.Errorf("%w: %s failed on %s", errBadRequestBody, fe.Field(), fe.Tag())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
