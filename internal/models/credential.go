package models

import "time"

// CredentialRecord is the persisted per-user bundle for one portal account.
// Both encrypted fields are opaque vault tokens; an empty string means absent.
type CredentialRecord struct {
	ID                     string    `json:"id" badgerhold:"key"`
	Username               string    `json:"username" badgerhold:"index"`
	EncryptedPassword      string    `json:"-"`
	EncryptedSessionCookie string    `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// HasPassword reports whether a remembered password is on file
func (r *CredentialRecord) HasPassword() bool {
	return r != nil && r.EncryptedPassword != ""
}

// HasSessionCookie reports whether a cached session is on file
func (r *CredentialRecord) HasSessionCookie() bool {
	return r != nil && r.EncryptedSessionCookie != ""
}
