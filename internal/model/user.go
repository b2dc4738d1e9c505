package model

import "time"

// User represents an application user record as stored in the `users`
// table. Authentication is fully passwordless: identity is proven with a
// WebAuthn credential or, as a fallback, a one-time code delivered out of
// band, so there is no password hash column.
//
// Fields:
//  ID        – primary key identifier of the user.
//  Email     – unique email address, always stored lowercase.
//  Name      – display name shown in WebAuthn prompts.
//  Role      – ADMIN or CLIENT.
//  IsActive  – whether the account may authenticate.
//  CreatedAt – timestamp of creation.
//  UpdatedAt – timestamp of last update.
type User struct {
	ID        uint64
	Email     string
	Name      string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
