// Package auth verifies bearer tokens and extracts the caller's role.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Roles.
const (
	RoleDriver = "driver"
	RoleOffice = "office"
	RoleAdmin  = "admin"
)

// Verifier validates bearer tokens. Mode "dev" accepts "role" or
// "role:driverId" tokens unchecked; mode "hmac" requires an HS256 JWT.
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	RoleClaim   string
	DriverClaim string
	now         func() time.Time
}

type Principal struct {
	Role     string
	DriverID string
	Subject  string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanAccessDriver reports whether the principal may act on driverID.
// Drivers are limited to their own records.
func (p Principal) CanAccessDriver(driverID string) bool {
	if p.Role != RoleDriver {
		return true
	}
	return p.DriverID != "" && p.DriverID == driverID
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(secret),
		RoleClaim:   "role",
		DriverClaim: "driver_id",
		now:         time.Now,
	}
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrBadSignature = errors.New("bad signature")
	ErrExpired      = errors.New("token expired")
)

func validRole(r string) bool {
	switch r {
	case RoleDriver, RoleOffice, RoleAdmin:
		return true
	}
	return false
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		role, driver, _ := strings.Cut(token, ":")
		role = strings.ToLower(role)
		if !validRole(role) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{Role: role, DriverID: driver, Subject: token}, nil
	}
	if v.Mode != "hmac" {
		return Principal{}, errors.New("unsupported auth mode")
	}

	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrInvalidToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadSignature
	}

	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrInvalidToken
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpired
	}
	role, _ := claims[v.RoleClaim].(string)
	role = strings.ToLower(role)
	if !validRole(role) {
		return Principal{}, ErrInvalidToken
	}
	driver, _ := claims[v.DriverClaim].(string)
	sub, _ := claims["sub"].(string)
	return Principal{Role: role, DriverID: driver, Subject: sub}, nil
}

// SignHS256 issues an HS256 token for claims. Used by tooling and tests.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	hdr := b64urlEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	input := hdr + "." + b64urlEncode(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + b64urlEncode(mac.Sum(nil)), nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func b64urlEncode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
