// Package auth guards the job control endpoints with the shared app password.
package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/srt-scheduler/internal/domain/reservation"
)

const (
	cookieName    = "srtsched_session"
	sessionMaxAge = 14 * 24 * time.Hour
)

// Guard checks the app password and issues a signed cookie so the browser can skip it.
type Guard struct {
	hash []byte
	sc   *securecookie.SecureCookie
	now  func() time.Time
}

// NewGuard builds a guard over a bcrypt hash. An empty hash rejects every request.
func NewGuard(passwordHash string, hashKey, blockKey []byte) *Guard {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionMaxAge.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Guard{hash: []byte(passwordHash), sc: sc, now: time.Now}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Check verifies the app password.
func (g *Guard) Check(password string) error {
	if len(g.hash) == 0 || password == "" {
		return reservation.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(g.hash, []byte(password)) != nil {
		return reservation.ErrUnauthorized
	}
	return nil
}

// Authorize accepts a request carrying a valid session cookie or the app password.
func (g *Guard) Authorize(r *http.Request, password string) error {
	if len(g.hash) == 0 {
		return reservation.ErrUnauthorized
	}
	if g.HasSession(r) {
		return nil
	}
	return g.Check(password)
}

type session struct {
	Version  int   `json:"v"`
	IssuedAt int64 `json:"iat"`
}

func (g *Guard) SetSession(w http.ResponseWriter, r *http.Request) error {
	encoded, err := g.sc.Encode(cookieName, session{Version: 1, IssuedAt: g.now().Unix()})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return nil
}

func (g *Guard) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (g *Guard) HasSession(r *http.Request) bool {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	var s session
	if err := g.sc.Decode(cookieName, c.Value, &s); err != nil {
		return false
	}
	return s.Version == 1
}
