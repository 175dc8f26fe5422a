package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

// dateOnlyLayout は日付だけが送られてきた場合の書式です。その日の 00:00 UTC として扱います。
const dateOnlyLayout = "2006-01-02"

type createUserRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	ExpireDate string `json:"expireDate" validate:"required"`
}

type updateUserRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	ExpireDate string `json:"expireDate" validate:"required"`
	Used       *bool  `json:"used"`
}

type userResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	ExpireDate      time.Time `json:"expireDate"`
	ActivationToken string    `json:"activationToken"`
	Used            bool      `json:"used"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type listedUserResponse struct {
	userResponse
	Idx int `json:"idx"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type listEnvelope struct {
	OBDList []listedUserResponse `json:"obdlist"`
}

func toUserResponse(u *onboarding.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		ExpireDate:      u.ExpireDate,
		ActivationToken: u.ActivationToken,
		Used:            u.Used,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func toListResponse(users []onboarding.ListedUser) listEnvelope {
	out := make([]listedUserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, listedUserResponse{userResponse: toUserResponse(u.User), Idx: u.Idx})
	}
	return listEnvelope{OBDList: out}
}

func parseExpireDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expireDate %q: %w", raw, onboarding.ErrInvalidExpireDate)
}
