package frontend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	flashCookieName = "guestbook_flash"
	// browsers drop cookies above 4 KiB
	maxFlashValueBytes = 3800
)

// flashStore keeps one-shot status messages in a signed cookie between the
// POST redirect and the following GET.
type flashStore struct {
	key []byte
}

func newFlashStore(secret []byte) *flashStore {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("guestbook flash messages"))
	return &flashStore{key: mac.Sum(nil)}
}

// Set replaces the pending messages. Messages that do not fit the cookie are
// dropped from the end.
func (f *flashStore) Set(c echo.Context, messages []string) {
	if len(messages) == 0 {
		return
	}
	var value string
	for n := len(messages); n > 0; n-- {
		value = f.encode(messages[:n])
		if len(value) <= maxFlashValueBytes {
			break
		}
		value = ""
	}
	if value == "" {
		slog.Warn("flash messages too large for cookie", "count", len(messages))
		return
	}
	c.SetCookie(f.cookie(c, value, 0))
}

// Pop returns and clears the pending messages. Tampered cookies yield none.
func (f *flashStore) Pop(c echo.Context) []string {
	cookie, err := c.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	c.SetCookie(f.cookie(c, "", -1))

	messages, ok := f.decode(cookie.Value)
	if !ok {
		slog.Warn("discarding invalid flash cookie", "client", c.RealIP())
		return nil
	}
	return messages
}

func (f *flashStore) encode(messages []string) string {
	payload, _ := json.Marshal(messages)
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(f.sign(body))
}

func (f *flashStore) decode(value string) ([]string, bool) {
	body, sig, found := strings.Cut(value, ".")
	if !found {
		return nil, false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, f.sign(body)) {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	var messages []string
	if err := json.Unmarshal(payload, &messages); err != nil {
		return nil, false
	}
	return messages, true
}

func (f *flashStore) sign(body string) []byte {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func (f *flashStore) cookie(c echo.Context, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     flashCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	}
}
