package listener

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bstoi/apptest/internal/errmark"
)

// ErrInvalidCredentials is returned by an Authenticator for a request whose
// credentials were present but not accepted.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is an authenticated user.
type Principal struct {
	Name   string
	Scheme string
}

// Authenticator establishes who sent a request. A request without
// credentials is anonymous: Authenticate returns a nil principal and no
// error. Rejected credentials yield ErrInvalidCredentials and the server
// answers 401 with the Challenge as WWW-Authenticate header.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
	Challenge() string
}

// Authentication schemes reported by Request.AuthType.
const (
	BasicAuth  = "BASIC"
	BearerAuth = "BEARER"
)

// BasicAuthenticator checks HTTP Basic credentials against a fixed set of
// users.
type BasicAuthenticator struct {
	Realm string
	Users map[string]string
}

func (a *BasicAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, nil
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, errors.Wrap(ErrInvalidCredentials, "malformed basic credentials")
	}
	want, known := a.Users[user]
	if !known || subtle.ConstantTimeCompare([]byte(want), []byte(pass)) != 1 {
		return nil, errors.Wrapf(ErrInvalidCredentials, "user %q", user)
	}
	return &Principal{Name: user, Scheme: BasicAuth}, nil
}

func (a *BasicAuthenticator) Challenge() string {
	return fmt.Sprintf("Basic realm=%q", realmOrDefault(a.Realm))
}

// JWTAuthenticator accepts HMAC-signed bearer tokens. The principal is the
// token subject.
type JWTAuthenticator struct {
	Realm    string
	Key      []byte
	Issuer   string
	Audience string
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, errors.Wrap(ErrInvalidCredentials, "expected a bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}
	parsed, err := jwt.Parse(strings.TrimSpace(token), func(*jwt.Token) (any, error) {
		return a.Key, nil
	}, opts...)
	if err != nil {
		return nil, errmark.Mark(errors.Wrap(err, "parsing bearer token"), ErrInvalidCredentials)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.Wrap(ErrInvalidCredentials, "token has no subject")
	}
	return &Principal{Name: sub, Scheme: BearerAuth}, nil
}

func (a *JWTAuthenticator) Challenge() string {
	return fmt.Sprintf("Bearer realm=%q", realmOrDefault(a.Realm))
}

func realmOrDefault(realm string) string {
	if realm == "" {
		return "apptest"
	}
	return realm
}
