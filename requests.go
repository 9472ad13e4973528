package identity

import (
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// LoginRequest carries the credentials for a login attempt
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// RegisterRequest carries the fields needed to create an account
type RegisterRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Alias          string `json:"alias"`
	FirstName      string `json:"first_name"`
	MiddleName     string `json:"middle_name"`
	LastName       string `json:"last_name"`
	SecondLastName string `json:"second_last_name"`
	Phone          string `json:"phone_number"`
}

// Validate will validate the payload
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.MiddleName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.SecondLastName, validation.Length(0, 200)),
		validation.Field(&r.Alias, validation.Length(0, 100)),
	)
}

// RefreshRequest carries the opaque refresh token being traded in
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// LogoutRequest identifies the session being terminated
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate will run validation rules
func (r LogoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// VerifyRequest carries an email verification token
type VerifyRequest struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r VerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

// ResendVerificationRequest asks for a fresh verification token
type ResendVerificationRequest struct {
	Username string `json:"username"`
}

// Validate will run validation rules
func (r ResendVerificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, is.Email),
	)
}

// LoginResponse is the token pair handed out on successful authentication
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	PublicID     string    `json:"public_id"`
	Username     string    `json:"username"`
	Alias        string    `json:"alias"`
	Tag          string    `json:"tag"`
	Roles        []string  `json:"roles"`
}

// RegisterResponse is returned after a successful registration
type RegisterResponse struct {
	PublicID string     `json:"public_id"`
	Username string     `json:"username"`
	Alias    string     `json:"alias"`
	Tag      string     `json:"tag"`
	Status   UserStatus `json:"status"`
	Roles    []string   `json:"roles"`
}

// normalizePhone parses the number and renders it E.164. Empty input is
// passed through, unparsable input is kept as provided since the column is
// informational.
func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if region == "" {
		region = "US"
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}

// DefaultPasswordPolicy requires at least 8 characters mixing letters and
// digits.
func DefaultPasswordPolicy(password string) error {
	if password == "" {
		return ErrNoEmptyString
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if len(password) < 8 || !hasLetter || !hasDigit {
		return ErrWeakPassword
	}

	return nil
}
