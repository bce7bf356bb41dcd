package models

import "github.com/golang-jwt/jwt/v5"

// UserRole enumerates roles carried by tokens from the session collaborator.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
	RoleDevice  UserRole = "DEVICE"
	RoleAdmin   UserRole = "ADMIN"
)

// JWTClaims represents the verified claims of a bearer token.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}
