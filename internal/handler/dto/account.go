// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/quota"
)

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AccountSummary is the public part of an account returned on registration.
type AccountSummary struct {
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Tier   model.Tier   `json:"tier"`
	Limits model.Limits `json:"limits"`
}

// RegisterResponse is returned once, with the only copy of the key.
type RegisterResponse struct {
	Success bool           `json:"success"`
	APIKey  string         `json:"apiKey"`
	Message string         `json:"message"`
	Data    AccountSummary `json:"data"`
}

// RotateKeyResponse carries a freshly issued key.
type RotateKeyResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"apiKey"`
	Message string `json:"message"`
}

// Profile is the account view returned by GET /auth/profile.
type Profile struct {
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Tier      model.Tier      `json:"tier"`
	Usage     model.Usage     `json:"usage"`
	Limits    model.Limits    `json:"limits"`
	Remaining quota.Remaining `json:"remaining"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DataResponse wraps a successful payload.
type DataResponse[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// OK wraps data in a successful response.
func OK[T any](data T) DataResponse[T] {
	return DataResponse[T]{Success: true, Data: data}
}

// ToAccountSummary converts an Account model to its summary.
func ToAccountSummary(acc *model.Account) AccountSummary {
	return AccountSummary{
		Name:   acc.Name,
		Email:  acc.Email,
		Tier:   acc.Tier,
		Limits: acc.Limits,
	}
}

// ToProfile converts an Account model to a Profile.
func ToProfile(acc *model.Account, remaining quota.Remaining) Profile {
	return Profile{
		Name:      acc.Name,
		Email:     acc.Email,
		Tier:      acc.Tier,
		Usage:     acc.Usage,
		Limits:    acc.Limits,
		Remaining: remaining,
		CreatedAt: acc.CreatedAt,
	}
}
