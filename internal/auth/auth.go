// Package auth decides whether a login attempt carries the right
// credential.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrWrongPassword = errors.New("auth: wrong password")

// Validator checks the password presented with a login attempt.
type Validator interface {
	Validate(password string) error
}

// SharedSecret validates against a single plaintext secret in constant
// time. An empty secret denies every attempt rather than accepting all
// of them.
type SharedSecret struct {
	Secret string
}

func (s SharedSecret) Validate(password string) error {
	if s.Secret == "" {
		return ErrWrongPassword
	}
	if subtle.ConstantTimeCompare([]byte(s.Secret), []byte(password)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

// BcryptSecret validates against a bcrypt hash so deployments never
// need the plaintext secret in a config file.
type BcryptSecret struct {
	Hash string
}

func (b BcryptSecret) Validate(password string) error {
	if b.Hash == "" {
		return ErrWrongPassword
	}
	err := bcrypt.CompareHashAndPassword([]byte(b.Hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrWrongPassword
	default:
		return fmt.Errorf("auth: compare hash: %w", err)
	}
}

// Open accepts every password. Used when the server runs without one.
type Open struct{}

func (Open) Validate(string) error {
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(password string) error

func (f FuncValidator) Validate(password string) error {
	return f(password)
}
