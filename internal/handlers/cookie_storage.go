package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	cookiePrefix = "cashback_"
	cookieMaxAge = 30 * 24 * time.Hour
)

// CookieStorage keeps wizard storage in the participant's browser cookies.
// Writes made during a request are visible to later reads in the same
// request.
type CookieStorage struct {
	c       *gin.Context
	secure  bool
	overlay map[string]*string // nil value means removed
}

// NewCookieStorage returns storage bound to one request.
func NewCookieStorage(c *gin.Context, secure bool) *CookieStorage {
	return &CookieStorage{c: c, secure: secure, overlay: make(map[string]*string)}
}

func (s *CookieStorage) Get(key string) (string, bool) {
	if v, ok := s.overlay[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	raw, err := s.c.Cookie(key)
	if err != nil || raw == "" {
		return "", false
	}
	val, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", false
	}
	return string(val), true
}

func (s *CookieStorage) Set(key, value string) error {
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(key, base64.RawURLEncoding.EncodeToString([]byte(value)), int(cookieMaxAge/time.Second), "/", "", s.secure, true)
	v := value
	s.overlay[key] = &v
	return nil
}

func (s *CookieStorage) Remove(key string) error {
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(key, "", -1, "/", "", s.secure, true)
	s.overlay[key] = nil
	return nil
}

// Clear removes every cashback_ cookie the request carried or this storage
// wrote.
func (s *CookieStorage) Clear() error {
	keys := make(map[string]struct{})
	for _, ck := range s.c.Request.Cookies() {
		if strings.HasPrefix(ck.Name, cookiePrefix) {
			keys[ck.Name] = struct{}{}
		}
	}
	for k, v := range s.overlay {
		if v != nil {
			keys[k] = struct{}{}
		}
	}
	for k := range keys {
		if err := s.Remove(k); err != nil {
			return err
		}
	}
	return nil
}
