package model

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the persisted OAuth grant for the configured mailbox.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// ValidAt reports whether the access token is usable at now with at least
// skew of lifetime left.
func (c Credential) ValidAt(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return c.Expiry.After(now.Add(skew))
}

// OAuth2Token converts the credential for use with golang.org/x/oauth2.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// CredentialFromToken builds a Credential from an oauth2 token. Granted scopes
// come from the token response's "scope" field; when the server omits it the
// requested scopes are recorded. A refresh response without a refresh token
// keeps prevRefresh.
func CredentialFromToken(tok *oauth2.Token, requested []string, prevRefresh string) Credential {
	c := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if c.RefreshToken == "" {
		c.RefreshToken = prevRefresh
	}
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		c.Scopes = strings.Fields(s)
	} else {
		c.Scopes = append([]string(nil), requested...)
	}
	return c
}
