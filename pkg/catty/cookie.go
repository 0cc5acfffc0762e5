package catty

import (
	"strconv"
	"strings"
	"time"

	"github.com/albertbausili/catty/internal/date"
)

// SameSite is the SameSite attribute of a Set-Cookie header.
type SameSite uint8

const (
	// SameSiteLax is the default.
	SameSiteLax SameSite = iota
	SameSiteStrict
	SameSiteNone
)

func (s SameSite) String() string {
	switch s {
	case SameSiteStrict:
		return "Strict"
	case SameSiteNone:
		return "None"
	default:
		return "Lax"
	}
}

// Cookie is a cookie to be sent in a Set-Cookie response header.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	MaxAge   int // seconds; takes precedence over Expires when positive
	Expires  time.Time
	SameSite SameSite
	Secure   bool
	HttpOnly bool
}

// String serialises the cookie for a Set-Cookie header. SameSite=None always
// carries Secure.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if c.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	} else if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(date.Layout))
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}

	b.WriteString("; SameSite=")
	b.WriteString(c.SameSite.String())

	if c.Secure || c.SameSite == SameSiteNone {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}
