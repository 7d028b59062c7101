package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lumenapp/lumen/internal/model"
	"github.com/lumenapp/lumen/internal/repository"
	"github.com/lumenapp/lumen/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	ErrNoPasswordSet          = errors.New("account has no password set")
)

type UserService struct {
	userRepository repository.UserRepository
	bcryptCost     int
}

func NewUserService(userRepository repository.UserRepository, bcryptCost int) *UserService {
	return &UserService{
		userRepository: userRepository,
		bcryptCost:     bcryptCost,
	}
}

func (s *UserService) ByID(id string) (*model.User, error) {
	return s.userRepository.ByID(id)
}

// UpdateProfile changes the display name and/or email. A nil field is
// left untouched. Email changes are checked against the unique index
// before the write, so the caller gets a conflict instead of a driver
// error.
func (s *UserService) UpdateProfile(userID string, name, email *string) (*model.User, error) {
	user, err := s.userRepository.ByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		err = validation.ValidateName(trimmed)
		if err != nil {
			return nil, err
		}
		user.Name = &trimmed
	}

	if email != nil {
		newEmail := strings.TrimSpace(strings.ToLower(*email))
		err = validation.ValidateEmail(newEmail)
		if err != nil {
			return nil, ErrInvalidEmail
		}

		if newEmail != user.Email {
			existing, lookupErr := s.userRepository.ByEmail(newEmail)
			if lookupErr != nil && !errors.Is(lookupErr, repository.ErrUserNotFound) {
				return nil, fmt.Errorf("failed to check email: %w", lookupErr)
			}
			if existing != nil {
				return nil, ErrEmailAlreadyExists
			}
			user.Email = newEmail
		}
	}

	err = s.userRepository.Update(user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

// UpdatePassword changes the password after checking the current one.
// OAuth-only accounts have no password hash and are rejected.
func (s *UserService) UpdatePassword(userID, currentPassword, newPassword string) error {
	user, err := s.userRepository.ByID(userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !user.HasPassword() {
		return ErrNoPasswordSet
	}

	err = bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(currentPassword))
	if err != nil {
		return ErrInvalidCurrentPassword
	}

	err = validation.ValidatePassword(newPassword)
	if err != nil {
		return err
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	hashStr := string(hashedBytes)
	user.PasswordHash = &hashStr

	err = s.userRepository.Update(user)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}
