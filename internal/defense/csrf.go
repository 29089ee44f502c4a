package defense

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/guestbook/internal/common"
)

var (
	ErrInvalidToken = errors.New("invalid csrf token")
	ErrExpiredToken = errors.New("expired csrf token")
)

const (
	CSRFFormField = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"

	maxClockSkew = time.Minute
)

// TokenIssuer creates and verifies stateless CSRF tokens of the form
// "<unix-seconds>:<hex nonce>:<hex HMAC-SHA256(secret, unix-seconds:nonce)>".
// A token stays valid, and reusable, for the whole validity window.
type TokenIssuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret []byte, validity time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("csrf secret must be at least 16 bytes")
	}
	if validity <= 0 {
		return nil, fmt.Errorf("invalid csrf validity %s", validity)
	}
	return &TokenIssuer{
		secret:   append([]byte(nil), secret...),
		validity: validity,
		now:      time.Now,
	}, nil
}

func (t *TokenIssuer) Issue() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	payload := strconv.FormatInt(t.now().Unix(), 10) + ":" + hex.EncodeToString(nonce)
	return payload + ":" + hex.EncodeToString(t.sign(payload)), nil
}

func (t *TokenIssuer) Verify(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[1] == "" {
		return ErrInvalidToken
	}
	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ErrInvalidToken
	}
	got, err := hex.DecodeString(parts[2])
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(got, t.sign(parts[0]+":"+parts[1])) {
		return ErrInvalidToken
	}

	age := t.now().Sub(time.Unix(issued, 0))
	if age < -maxClockSkew {
		return ErrInvalidToken
	}
	if age > t.validity {
		return ErrExpiredToken
	}
	return nil
}

func (t *TokenIssuer) sign(payload string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// CSRFFailureHandler answers a state-changing request without a valid token.
type CSRFFailureHandler func(c echo.Context, err error) error

// CSRF verifies the token on every state-changing request. The token is read
// from the csrf_token form field or the X-CSRF-Token header.
func CSRF(issuer *TokenIssuer, metrics *common.Metrics, onFailure CSRFFailureHandler) echo.MiddlewareFunc {
	if onFailure == nil {
		onFailure = func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "invalid csrf token").SetInternal(err)
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				return next(c)
			}

			token := c.Request().Header.Get(CSRFHeader)
			if token == "" {
				token = c.FormValue(CSRFFormField)
			}
			if err := issuer.Verify(token); err != nil {
				if metrics != nil {
					metrics.CSRFFailures.Inc()
				}
				slog.Warn("csrf verification failed", "path", c.Path(), "client", c.RealIP(), "error", err)
				return onFailure(c, err)
			}
			return next(c)
		}
	}
}
