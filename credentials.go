package shopauth

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneClean = strings.NewReplacer("-", "", " ", "", "(", "", ")", "")
)

// MinPasswordLength matches the backend's registration rule
const MinPasswordLength = 8

// Credentials are what a user types into the login form
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the signup form
type Registration struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Phone                string `json:"phone,omitempty"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation,omitempty"`
}

// RegistrationValidator validates a registration before it is sent.
// It returns nil when the form is acceptable.
type RegistrationValidator func(reg *Registration) *Error

// fieldErrors accumulates per-field messages in the same shape the backend uses for 422s
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

func (f fieldErrors) err() *Error {
	if len(f) == 0 {
		return nil
	}
	return &Error{
		Kind:    ErrorKindValidationFailed,
		Status:  http.StatusUnprocessableEntity,
		Message: "The given data was invalid.",
		Fields:  f,
	}
}

// ValidateCredentials checks a login form locally so obviously bad input never
// reaches the network
func ValidateCredentials(c Credentials) *Error {
	errs := fieldErrors{}
	if strings.TrimSpace(c.Email) == "" {
		errs.add("email", "The email field is required.")
	}
	if c.Password == "" {
		errs.add("password", "The password field is required.")
	}
	return errs.err()
}

// DefaultRegistrationValidator provides sensible default validation for signup
var DefaultRegistrationValidator RegistrationValidator = func(reg *Registration) *Error {
	errs := fieldErrors{}

	if strings.TrimSpace(reg.Name) == "" {
		errs.add("name", "The name field is required.")
	}

	if reg.Email == "" {
		errs.add("email", "The email field is required.")
	} else if !emailRegex.MatchString(reg.Email) {
		errs.add("email", "The email must be a valid email address.")
	}

	// Phone is optional; when given it needs at least 10 digits once punctuation is removed
	if reg.Phone != "" && len(phoneClean.Replace(reg.Phone)) < 10 {
		errs.add("phone", "The phone number is invalid.")
	}

	if len(reg.Password) < MinPasswordLength {
		errs.add("password", "The password must be at least 8 characters.")
	}
	if reg.PasswordConfirmation != "" && reg.PasswordConfirmation != reg.Password {
		errs.add("password", "The password confirmation does not match.")
	}

	return errs.err()
}

// DetectUsernameType attempts to detect what kind of login identifier was provided
func DetectUsernameType(username string) string {
	if strings.Contains(username, "@") {
		return "email"
	}
	if len(username) > 0 && (username[0] == '+' || (username[0] >= '0' && username[0] <= '9')) {
		return "phone"
	}
	return "username"
}
