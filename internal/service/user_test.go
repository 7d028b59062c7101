package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestUserService(users *fakeUserRepo) *UserService {
	return NewUserService(users, bcrypt.MinCost)
}

func TestUpdatePassword(t *testing.T) {
	mailer := &recordingMailer{}
	authSvc, users, _ := newTestAuthService(mailer)
	svc := newTestUserService(users)

	require.NoError(t, authSvc.Register("a@x.com", "password1234", "A"))
	user, err := users.ByEmail("a@x.com")
	require.NoError(t, err)

	err = svc.UpdatePassword(user.ID, "password1234", "newpass1234")
	require.NoError(t, err)

	_, err = authSvc.Login("a@x.com", "newpass1234")
	assert.NoError(t, err)
	_, err = authSvc.Login("a@x.com", "password1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdatePasswordWrongCurrent(t *testing.T) {
	authSvc, users, _ := newTestAuthService(&recordingMailer{})
	svc := newTestUserService(users)

	require.NoError(t, authSvc.Register("a@x.com", "password1234", "A"))
	user, err := users.ByEmail("a@x.com")
	require.NoError(t, err)

	err = svc.UpdatePassword(user.ID, "wrongpassword", "newpass1234")
	assert.ErrorIs(t, err, ErrInvalidCurrentPassword)
}

func TestUpdatePasswordOAuthOnlyAccount(t *testing.T) {
	authSvc, users, _ := newTestAuthService(&recordingMailer{})
	svc := newTestUserService(users)

	user, err := authSvc.AuthenticateOAuth("o@x.com", "O", "", true, "google")
	require.NoError(t, err)

	err = svc.UpdatePassword(user.ID, "", "newpass1234")
	assert.ErrorIs(t, err, ErrNoPasswordSet)
}

func TestUpdateProfile(t *testing.T) {
	authSvc, users, _ := newTestAuthService(&recordingMailer{})
	svc := newTestUserService(users)

	require.NoError(t, authSvc.Register("a@x.com", "password1234", "A"))
	user, err := users.ByEmail("a@x.com")
	require.NoError(t, err)

	name := "New Name"
	email := "new@x.com"
	updated, err := svc.UpdateProfile(user.ID, &name, &email)
	require.NoError(t, err)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "New Name", *updated.Name)
	assert.Equal(t, "new@x.com", updated.Email)

	// Only the given fields change
	updated, err = svc.UpdateProfile(user.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", updated.Email)
}

func TestUpdateProfileEmailConflict(t *testing.T) {
	authSvc, users, _ := newTestAuthService(&recordingMailer{})
	svc := newTestUserService(users)

	require.NoError(t, authSvc.Register("a@x.com", "password1234", "A"))
	require.NoError(t, authSvc.Register("b@x.com", "password1234", "B"))

	userA, err := users.ByEmail("a@x.com")
	require.NoError(t, err)

	taken := "b@x.com"
	_, err = svc.UpdateProfile(userA.ID, nil, &taken)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}
