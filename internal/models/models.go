// Package models defines the wire types of the admin users API.
package models

import (
	"encoding/json"
	"time"
)

// User is one row of the admin users listing.
type User struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        string     `json:"role,omitempty"`
	Status      string     `json:"status,omitempty"`
	Department  string     `json:"department,omitempty"`
	Tier        string     `json:"tier,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// timeLayouts are the timestamp shapes the API has been seen to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime returns the zero time for null, non-string or unrecognized
// values.
func parseTime(data json.RawMessage) time.Time {
	var v string
	if len(data) == 0 || json.Unmarshal(data, &v) != nil || v == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// UnmarshalJSON decodes a user, accepting date-only and zoneless
// timestamps. Unparseable timestamps decode as unset instead of failing
// the whole row.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		*plain
		CreatedAt   json.RawMessage `json:"createdAt"`
		LastLoginAt json.RawMessage `json:"lastLoginAt"`
	}
	raw.plain = (*plain)(u)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.CreatedAt = parseTime(raw.CreatedAt)
	u.LastLoginAt = nil
	if t := parseTime(raw.LastLoginAt); !t.IsZero() {
		u.LastLoginAt = &t
	}
	return nil
}

// Pagination describes the position of a page within a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// UsersPage is the body of GET /api/admin/users.
type UsersPage struct {
	Users      []User      `json:"users"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// CreateUserRequest is the body of POST /api/admin/users.
type CreateUserRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	Tier       string `json:"tier,omitempty"`
}

// UpdateUserRequest is the body of PATCH /api/admin/users/{id}.
// Nil fields are left unchanged.
type UpdateUserRequest struct {
	Role       *string `json:"role,omitempty"`
	Status     *string `json:"status,omitempty"`
	Department *string `json:"department,omitempty"`
	Tier       *string `json:"tier,omitempty"`
}

// Empty reports whether the update changes nothing.
func (r UpdateUserRequest) Empty() bool {
	return r.Role == nil && r.Status == nil && r.Department == nil && r.Tier == nil
}

// Known filter values, in the order interactive pickers cycle through them.
// "ALL" matches everything and is never sent to the server.
var (
	Roles    = []string{"ALL", "ADMIN", "MANAGER", "ACCOUNTANT", "STAFF", "CLIENT"}
	Statuses = []string{"ALL", "ACTIVE", "INACTIVE", "SUSPENDED", "PENDING"}
)
