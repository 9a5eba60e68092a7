package user

import "time"

const (
	EventUserRegistered  = "UserRegistered"
	EventUserRenamed     = "UserRenamed"
	EventUserDeactivated = "UserDeactivated"
	EventUserReactivated = "UserReactivated"
)

type UserRegistered struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

type UserRenamed struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	RenamedAt time.Time `json:"renamed_at"`
}

type UserDeactivated struct {
	UserID        string    `json:"user_id"`
	Reason        string    `json:"reason"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

type UserReactivated struct {
	UserID        string    `json:"user_id"`
	ReactivatedAt time.Time `json:"reactivated_at"`
}
