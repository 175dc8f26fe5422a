package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

type stubUseCase struct {
	createIn  []onboarding.CreateUserInput
	createErr error

	updateIn  onboarding.UpdateUserInput
	updateErr error

	listed  []onboarding.ListedUser
	listErr error

	getIn  onboarding.GetUserInput
	user   *onboarding.User
	getErr error

	deleteErr error

	validateIn  onboarding.ValidateTokenInput
	validateErr error
}

func (s *stubUseCase) CreateUsers(ctx context.Context, in []onboarding.CreateUserInput) ([]*onboarding.User, error) {
	s.createIn = in
	if s.createErr != nil {
		return nil, s.createErr
	}
	return []*onboarding.User{{ID: "id-1"}}, nil
}

func (s *stubUseCase) UpdateUser(ctx context.Context, in onboarding.UpdateUserInput) (*onboarding.User, error) {
	s.updateIn = in
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &onboarding.User{ID: "id-1"}, nil
}

func (s *stubUseCase) GetAllUsers(ctx context.Context) ([]onboarding.ListedUser, error) {
	return s.listed, s.listErr
}

func (s *stubUseCase) GetUser(ctx context.Context, in onboarding.GetUserInput) (*onboarding.User, error) {
	s.getIn = in
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.user, nil
}

func (s *stubUseCase) DeleteUser(ctx context.Context, in onboarding.DeleteUserInput) (string, error) {
	if s.deleteErr != nil {
		return "", s.deleteErr
	}
	return in.ID, nil
}

func (s *stubUseCase) ValidateToken(ctx context.Context, in onboarding.ValidateTokenInput) (*onboarding.User, error) {
	s.validateIn = in
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return s.user, nil
}

const sampleID = "0b7f3c1e-2a4d-4f55-9b7e-1d2c3b4a5f60"

func sampleUser() *onboarding.User {
	ts := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	return &onboarding.User{
		ID:              sampleID,
		Name:            "Alice",
		Email:           "a@x.com",
		ExpireDate:      ts,
		ActivationToken: "0123456789abcdef0123456789abcdef",
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func serve(t *testing.T, svc onboarding.UseCase, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := NewRouter(NewOnboardingHandler(svc, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateUsers_Success(t *testing.T) {
	svc := &stubUseCase{}

	rec := serve(t, svc, http.MethodPost, "/users",
		`[{"name":"Alice","email":"a@x.com","expireDate":"2030-01-02T03:04:05Z"},{"name":"Bob","email":"b@x.com","expireDate":"2030-01-02"}]`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["message"])

	require.Len(t, svc.createIn, 2)
	assert.Equal(t, "a@x.com", svc.createIn[0].Email)
	assert.True(t, svc.createIn[0].ExpireDate.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.True(t, svc.createIn[1].ExpireDate.Equal(time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestCreateUsers_Duplicate(t *testing.T) {
	svc := &stubUseCase{createErr: &onboarding.DuplicateEmailError{Email: "a@x.com"}}

	rec := serve(t, svc, http.MethodPost, "/users",
		`[{"name":"Alice","email":"a@x.com","expireDate":"2030-01-02T03:04:05Z"}]`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User with a@x.com address already exists", decodeBody(t, rec)["error"])
}

func TestCreateUsers_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed json":  `[{"name":`,
		"not an array":    `{"name":"Alice"}`,
		"invalid email":   `[{"name":"Alice","email":"nope","expireDate":"2030-01-02"}]`,
		"missing name":    `[{"email":"a@x.com","expireDate":"2030-01-02"}]`,
		"bad expire date": `[{"name":"Alice","email":"a@x.com","expireDate":"next week"}]`,
		"unknown field":   `[{"name":"Alice","email":"a@x.com","expireDate":"2030-01-02","role":"admin"}]`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubUseCase{}
			rec := serve(t, svc, http.MethodPost, "/users", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
			assert.Nil(t, svc.createIn)
		})
	}
}

func TestCreateUsers_EmptyBatch(t *testing.T) {
	svc := &stubUseCase{createErr: onboarding.ErrEmptyBatch}

	rec := serve(t, svc, http.MethodPost, "/users", `[]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAllUsers(t *testing.T) {
	first := sampleUser()
	second := sampleUser()
	second.ID = "id-2"
	svc := &stubUseCase{listed: []onboarding.ListedUser{{User: first, Idx: 1}, {User: second, Idx: 2}}}

	rec := serve(t, svc, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list, ok := decodeBody(t, rec)["obdlist"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	item := list[0].(map[string]any)
	assert.Equal(t, sampleID, item["id"])
	assert.Equal(t, float64(1), item["idx"])
	assert.Equal(t, "0123456789abcdef0123456789abcdef", item["activationToken"])
	assert.Equal(t, "2030-01-02T03:04:05Z", item["expireDate"])
	assert.Equal(t, false, item["used"])
	assert.Equal(t, float64(2), list[1].(map[string]any)["idx"])
}

func TestGetAllUsers_Empty(t *testing.T) {
	rec := serve(t, &stubUseCase{}, http.MethodGet, "/users", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"obdlist":[]}`, rec.Body.String())
}

func TestGetUser(t *testing.T) {
	svc := &stubUseCase{user: sampleUser()}

	rec := serve(t, svc, http.MethodGet, "/users/"+sampleID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sampleID, svc.getIn.ID)

	user := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
}

func TestGetUser_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", onboarding.ErrUserNotFound, http.StatusNotFound, "user not found"},
		{"invalid id", fmt.Errorf("id %q: %w", "not-a-uuid", onboarding.ErrInvalidID), http.StatusBadRequest, "invalid id"},
		{"store failure", &onboarding.StoreError{Op: "find user by id", Err: errors.New("conn refused")}, http.StatusInternalServerError, internalErrorMessage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &stubUseCase{getErr: tc.err}, http.MethodGet, "/users/x", "")

			require.Equal(t, tc.status, rec.Code)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, decodeBody(t, rec)["error"])
			}
			assert.NotContains(t, rec.Body.String(), "conn refused")
		})
	}
}

func TestUpdateUser(t *testing.T) {
	svc := &stubUseCase{}

	rec := serve(t, svc, http.MethodPut, "/users/"+sampleID,
		`{"name":"Alice B","email":"a@x.com","expireDate":"2030-02-01T00:00:00Z","used":true}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["message"])
	assert.Equal(t, "Alice B", svc.updateIn.Name)
	require.NotNil(t, svc.updateIn.Used)
	assert.True(t, *svc.updateIn.Used)
}

func TestUpdateUser_UsedDefaultsToNil(t *testing.T) {
	svc := &stubUseCase{}

	rec := serve(t, svc, http.MethodPut, "/users/"+sampleID,
		`{"name":"Alice","email":"a@x.com","expireDate":"2030-02-01"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, svc.updateIn.Used)
}

func TestUpdateUser_Duplicate(t *testing.T) {
	svc := &stubUseCase{updateErr: &onboarding.DuplicateEmailError{Email: "a@x.com"}}

	rec := serve(t, svc, http.MethodPut, "/users/"+sampleID,
		`{"name":"Alice","email":"a@x.com","expireDate":"2030-02-01"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	rec := serve(t, &stubUseCase{}, http.MethodDelete, "/users/"+sampleID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sampleID, decodeBody(t, rec)["message"])
}

func TestDeleteUser_Failed(t *testing.T) {
	rec := serve(t, &stubUseCase{deleteErr: onboarding.ErrDeleteFailed}, http.MethodDelete, "/users/"+sampleID, "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "delete failed", decodeBody(t, rec)["error"])
}

func TestCheckToken(t *testing.T) {
	svc := &stubUseCase{user: sampleUser()}

	rec := serve(t, svc, http.MethodGet, "/users/check/0123456789abcdef0123456789abcdef", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", svc.validateIn.Token)
	assert.Empty(t, svc.getIn.ID)

	user := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, sampleID, user["id"])
}

func TestCheckToken_ExpiredOrUsed(t *testing.T) {
	svc := &stubUseCase{validateErr: onboarding.ErrLinkExpiredOrUsed}

	rec := serve(t, svc, http.MethodGet, "/users/check/deadbeef", "")

	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "The onboarding link is used or expired!", decodeBody(t, rec)["error"])
}

func TestHealthz(t *testing.T) {
	rec := serve(t, &stubUseCase{}, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
