package base

import (
	"fmt"
	"net/url"
)

// URL is a RTSP URL.
type URL url.URL

// ParseURL parses a RTSP URL.
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.Fragment != "" {
		return nil, fmt.Errorf("URLs with fragments are not supported")
	}

	return (*URL)(u), nil
}

// MustParseURL is like ParseURL but panics on error.
func MustParseURL(s string) *URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	c := *u
	if u.User != nil {
		tmp := *u.User
		c.User = &tmp
	}
	return &c
}

// CloneWithoutCredentials clones a URL and strips user and password.
func (u *URL) CloneWithoutCredentials() *URL {
	c := *u
	c.User = nil
	return &c
}

// Hostname returns the host without port.
func (u *URL) Hostname() string {
	return (*url.URL)(u).Hostname()
}
