package auth

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// Session is one browsing context against the SSO portal: a cookie jar and a
// client that reports redirects instead of following them. A Session is owned
// by a single caller; logging out produces a new one.
type Session struct {
	jar    *cookiejar.Jar
	client *http.Client
}

func NewSession() (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Session{
		jar: jar,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// following shares the jar but lets the client walk redirect chains.
func (s *Session) following() *http.Client {
	return &http.Client{Jar: s.jar}
}
