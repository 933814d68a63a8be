package models

import (
	"errors"
	"net/mail"
	"strings"
)

type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AccountType is fixed for accounts created from this client.
const AccountType = "student"

// Grades lists the accepted values of RegisterData.Grade, in display order.
var Grades = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "Posgrado", "Otro"}

type RegisterData struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Type     string `json:"type"`
	Grade    string `json:"grade"`
}

type AuthResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidGrade = errors.New("invalid grade")
)

func (c LoginCredentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return ErrMissingField
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// Validate fills Type and checks the fields the register form requires.
func (r *RegisterData) Validate() error {
	r.Type = AccountType
	for _, v := range []string{r.Username, r.Name, r.Lastname, r.Email, r.Password} {
		if strings.TrimSpace(v) == "" {
			return ErrMissingField
		}
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return ErrInvalidEmail
	}
	for _, g := range Grades {
		if r.Grade == g {
			return nil
		}
	}
	return ErrInvalidGrade
}
