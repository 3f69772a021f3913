// Package credentials supplies bearer tokens to the CRM API client.
//
// A missing token is never an error: requests then go out unauthenticated and
// the backend decides whether to reject them.
package credentials

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider returns the bearer token for the next request. An empty token with a
// nil error means "no credentials available".
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token(context.Context) (string, error) {
	name := strings.TrimSpace(string(e))
	if name == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(name)), nil
}

// Chain returns the first non-empty token from providers, in order.
// A provider error stops the chain.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		token, err := p.Token(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", nil
}

// Expiry reads the exp claim of a JWT bearer token without verifying its
// signature. ok is false for opaque tokens or tokens without exp.
func Expiry(token string) (exp time.Time, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// Expired reports whether token is a JWT whose exp claim lies before now.
// Opaque tokens are never considered expired.
func Expired(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	return ok && !exp.After(now)
}
