package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/pkg/crypto"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

// ErrEmailTaken is returned when registering an email that already has an account.
var ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "Email is already registered", http.StatusConflict)

// RegisterInput describes a self-service account registration.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,notblank,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=restaurant charity"`
	Phone    string `json:"phone" validate:"omitempty,max=64"`
	Address  string `json:"address" validate:"omitempty,max=1024"`
}

// UpdateProfileInput carries optional profile changes. Nil fields are left untouched.
type UpdateProfileInput struct {
	Name      *string `json:"name" validate:"omitnil,notblank,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,max=64"`
	Address   *string `json:"address" validate:"omitempty,max=1024"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

// UserService manages accounts and profiles.
type UserService struct {
	db         *gorm.DB
	bcryptCost int
	now        func() time.Time
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) UserServiceOption {
	return func(s *UserService) {
		s.bcryptCost = cost
	}
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, opts ...UserServiceOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	svc := &UserService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an account together with its welcome notification.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (UserDTO, error) {
	ctx = ensureContext(ctx)

	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Role = strings.ToLower(strings.TrimSpace(input.Role))
	if err := validateInput(input); err != nil {
		return UserDTO{}, err
	}

	hash, err := crypto.HashPasswordWithCost(input.Password, s.bcryptCost)
	if err != nil {
		return UserDTO{}, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Name:     input.Name,
		Email:    input.Email,
		Password: hash,
		Role:     input.Role,
		Phone:    strings.TrimSpace(input.Phone),
		Address:  strings.TrimSpace(input.Address),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create user: %w", err)
		}

		welcome := &models.Notification{
			UserID:   user.ID,
			Audience: models.AudienceUser,
			Type:     models.NotificationTypeWelcome,
			Title:    "Welcome to FoodBridge",
			Message:  welcomeMessage(user),
		}
		if err := tx.Create(welcome).Error; err != nil {
			return fmt.Errorf("create welcome notification: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return UserDTO{}, ErrEmailTaken
		}
		return UserDTO{}, fmt.Errorf("user service: register: %w", err)
	}

	return mapUser(user), nil
}

// Authenticate verifies credentials and returns the matching user.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user service: authenticate: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return &user, nil
}

// Find loads the raw user model.
func (s *UserService) Find(ctx context.Context, id string) (*models.User, error) {
	return findUser(ensureContext(ctx), s.db, id)
}

// Get returns the profile of a user.
func (s *UserService) Get(ctx context.Context, id string) (UserDTO, error) {
	user, err := s.Find(ctx, id)
	if err != nil {
		return UserDTO{}, err
	}
	return mapUser(user), nil
}

// UpdateProfile applies profile changes. Presence and role are not editable here.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (UserDTO, error) {
	ctx = ensureContext(ctx)

	trim := func(value *string) *string {
		if value == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*value)
		return &trimmed
	}
	input.Name = trim(input.Name)
	input.Phone = trim(input.Phone)
	input.Address = trim(input.Address)
	input.AvatarURL = trim(input.AvatarURL)
	if err := validateInput(input); err != nil {
		return UserDTO{}, err
	}

	user, err := s.Find(ctx, id)
	if err != nil {
		return UserDTO{}, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Phone != nil {
		updates["phone"] = *input.Phone
	}
	if input.Address != nil {
		updates["address"] = *input.Address
	}
	if input.AvatarURL != nil {
		updates["avatar_url"] = *input.AvatarURL
	}
	if len(updates) == 0 {
		return mapUser(user), nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return UserDTO{}, fmt.Errorf("user service: update profile: %w", err)
	}
	return s.Get(ctx, user.ID)
}

func welcomeMessage(user *models.User) string {
	if user.IsRestaurant() {
		return fmt.Sprintf("Hi %s, share your surplus food with charities nearby.", user.Name)
	}
	return fmt.Sprintf("Hi %s, browse available food posts and request what you need.", user.Name)
}
