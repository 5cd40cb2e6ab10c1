// models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccountID identifies an account created through signup.
type AccountID string

const (
	AccountStatusPending = "pending"
	AccountStatusActive  = "active"
)

// Account model
type Account struct {
	ID              primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Email           string             `json:"email" bson:"email"`
	FirstName       string             `json:"firstName,omitempty" bson:"firstName,omitempty"`
	LastName        string             `json:"lastName,omitempty" bson:"lastName,omitempty"`
	Role            Role               `json:"accountType,omitempty" bson:"role,omitempty"`
	PasswordHash    string             `json:"-" bson:"passwordHash,omitempty"`
	Status          string             `json:"status" bson:"status"` // "pending", "active"
	EmailVerifiedAt *time.Time         `json:"emailVerifiedAt,omitempty" bson:"emailVerifiedAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// AccountProfile holds the fields written when a pending account is activated.
type AccountProfile struct {
	FirstName    string
	LastName     string
	Role         Role
	PasswordHash string
}

// Response is the JSON envelope used by every endpoint.
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
