package realm

import "fmt"

// AuthCode enumerates the realm-auth result taxonomy.
type AuthCode int

const (
	AuthUnknown AuthCode = iota
	AuthBanned
	AuthSuspended
	AuthIncorrectPassword
	AuthAlreadyOnline
	AuthAccountUnknown
	AuthTwoFactorRequired
	AuthFailNewDevice
	AuthVersionMismatch
	AuthServerFull
	AuthServerQueued
	AuthInvalidServerProof
	AuthRealmNotFound
)

func (c AuthCode) String() string {
	switch c {
	case AuthBanned:
		return "Banned"
	case AuthSuspended:
		return "Suspended"
	case AuthIncorrectPassword:
		return "IncorrectPassword"
	case AuthAlreadyOnline:
		return "AlreadyOnline"
	case AuthAccountUnknown:
		return "AccountUnknown"
	case AuthTwoFactorRequired:
		return "TwoFactorRequired"
	case AuthFailNewDevice:
		return "FailNewDevice"
	case AuthVersionMismatch:
		return "VersionMismatch"
	case AuthServerFull:
		return "ServerFull"
	case AuthServerQueued:
		return "ServerQueued"
	case AuthInvalidServerProof:
		return "InvalidServerProof"
	case AuthRealmNotFound:
		return "RealmNotFound"
	default:
		return "Unknown"
	}
}

// Fatal reports whether the supervisor must stop retrying on this code.
func (c AuthCode) Fatal() bool {
	switch c {
	case AuthBanned, AuthIncorrectPassword, AuthAccountUnknown, AuthSuspended, AuthVersionMismatch:
		return true
	default:
		return false
	}
}

// AuthError is the AuthRealm{code} taxonomy member.
type AuthError struct {
	Code     AuthCode
	Position int // queue position, meaningful only for AuthServerQueued
}

func (e *AuthError) Error() string {
	if e.Code == AuthServerQueued {
		return fmt.Sprintf("realm auth: queued at position %d", e.Position)
	}
	return fmt.Sprintf("realm auth: %s", e.Code)
}

// authCodeFromWire maps the wire status byte to an AuthCode. The specific
// byte values follow the Ascension fork of the WotLK 3.3.5a AUTH_LOGON
// result table.
func authCodeFromWire(status byte) AuthCode {
	switch status {
	case 0x00:
		return AuthUnknown // success is handled by the caller before this map is consulted
	case 0x03:
		return AuthAccountUnknown
	case 0x04:
		return AuthIncorrectPassword
	case 0x06:
		return AuthAlreadyOnline
	case 0x09:
		return AuthVersionMismatch
	case 0x0A:
		return AuthServerFull
	case 0x0D:
		return AuthBanned
	case 0x0E:
		return AuthSuspended
	case 0x1E:
		return AuthFailNewDevice
	default:
		return AuthUnknown
	}
}
