package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUserExists   = errors.New("username already taken")
	errBadLogin     = errors.New("invalid username or password")
	errInvalidToken = errors.New("invalid token")
)

// userStore keeps dev accounts in memory and issues HS256 bearer tokens.
type userStore struct {
	mu     sync.Mutex
	users  map[string][32]byte // username -> sha256(password)
	secret []byte
	ttl    time.Duration
}

func newUserStore(secret []byte) *userStore {
	return &userStore{
		users:  make(map[string][32]byte),
		secret: secret,
		ttl:    24 * time.Hour,
	}
}

func (u *userStore) Signup(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", errBadLogin
	}
	u.mu.Lock()
	if _, ok := u.users[username]; ok {
		u.mu.Unlock()
		return "", errUserExists
	}
	u.users[username] = sha256.Sum256([]byte(password))
	u.mu.Unlock()
	return u.issue(username)
}

func (u *userStore) Login(username, password string) (string, error) {
	u.mu.Lock()
	want, ok := u.users[username]
	u.mu.Unlock()
	got := sha256.Sum256([]byte(password))
	if !ok || subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return "", errBadLogin
	}
	return u.issue(username)
}

func (u *userStore) issue(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(u.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(u.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a bearer token and returns the username it was issued to.
func (u *userStore) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return u.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}
