// Package middleware holds the HTTP middleware shared by the chat and admin
// surfaces: Cognito JWT validation, the admin gate, CORS and request logging.
package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/patients"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// CognitoConfig holds AWS Cognito configuration for JWT validation.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string // App client ID for audience validation
}

// CognitoClaims represents the claims in a Cognito JWT.
type CognitoClaims struct {
	jwt.RegisteredClaims
	Email           string   `json:"email"`
	EmailVerified   bool     `json:"email_verified"`
	CognitoGroups   []string `json:"cognito:groups"`
	TokenUse        string   `json:"token_use"`
	ClientID        string   `json:"client_id"`
	Name            string   `json:"name"`
	PhoneNumber     string   `json:"phone_number"`
	CognitoUsername string   `json:"cognito:username"`
}

// ProfileDirectory enriches the authenticated subject with the stored
// patient profile. Optional; without it only the token claims are used.
type ProfileDirectory interface {
	Get(ctx context.Context, id string) (*patients.Profile, error)
}

// jwksCache caches the JWKS keys for one user pool issuer.
type jwksCache struct {
	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

var (
	jwksCaches   = make(map[string]*jwksCache)
	jwksCachesMu sync.RWMutex
)

// CognitoAuth validates a Cognito-issued bearer token and places the
// resolved subject on the request context. When a profile directory is
// given, the stored name, phone and admin flag override the token claims.
func CognitoAuth(cfg CognitoConfig, directory ProfileDirectory, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Region == "" || cfg.UserPoolID == "" {
		// Reject everything rather than run an open clinic endpoint.
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"authentication not configured"}`, http.StatusUnauthorized)
			})
		}
	}

	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
	jwksURL := fmt.Sprintf("%s/.well-known/jwks.json", issuer)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			token, _, err := jwt.NewParser().ParseUnverified(tokenString, &CognitoClaims{})
			if err != nil {
				http.Error(w, `{"error":"invalid token format"}`, http.StatusUnauthorized)
				return
			}
			kid, ok := token.Header["kid"].(string)
			if !ok {
				http.Error(w, `{"error":"missing key id in token"}`, http.StatusUnauthorized)
				return
			}

			pubKey, err := getPublicKey(jwksURL, kid, issuer)
			if err != nil {
				http.Error(w, `{"error":"failed to verify token"}`, http.StatusUnauthorized)
				return
			}

			claims := &CognitoClaims{}
			validated, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return pubKey, nil
			}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
			if err != nil || !validated.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			if cfg.ClientID != "" {
				if claims.TokenUse == "id" {
					aud, _ := claims.GetAudience()
					if !containsAudience(aud, cfg.ClientID) {
						http.Error(w, `{"error":"invalid audience"}`, http.StatusUnauthorized)
						return
					}
				}
				if claims.TokenUse == "access" && claims.ClientID != cfg.ClientID {
					http.Error(w, `{"error":"invalid client_id"}`, http.StatusUnauthorized)
					return
				}
			}

			subject := subjectFromClaims(claims)
			if directory != nil {
				if profile, err := directory.Get(r.Context(), subject.ID); err == nil {
					subject = enrich(subject, profile)
				} else if !errors.Is(err, patients.ErrNotFound) {
					logger.Warn("auth: profile lookup failed", "subject_id", subject.ID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(identity.WithSubject(r.Context(), subject)))
		})
	}
}

func subjectFromClaims(claims *CognitoClaims) identity.Subject {
	sub := identity.Subject{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Phone: claims.PhoneNumber,
	}
	for _, group := range claims.CognitoGroups {
		if group == "admin" {
			sub.Admin = true
		}
	}
	return sub
}

func enrich(sub identity.Subject, profile *patients.Profile) identity.Subject {
	if profile == nil {
		return sub
	}
	if profile.Name != "" {
		sub.Name = profile.Name
	}
	if profile.Phone != "" {
		sub.Phone = profile.Phone
	}
	if profile.Email != "" {
		sub.Email = profile.Email
	}
	if profile.Admin {
		sub.Admin = true
	}
	return sub
}

func containsAudience(aud []string, clientID string) bool {
	for _, a := range aud {
		if a == clientID {
			return true
		}
	}
	return false
}

// getPublicKey fetches and caches the public key from the pool's JWKS.
func getPublicKey(jwksURL, kid, issuer string) (*rsa.PublicKey, error) {
	jwksCachesMu.RLock()
	cache, exists := jwksCaches[issuer]
	jwksCachesMu.RUnlock()

	if exists {
		cache.mu.RLock()
		if time.Now().Before(cache.expires) {
			if key, ok := cache.keys[kid]; ok {
				cache.mu.RUnlock()
				return key, nil
			}
		}
		cache.mu.RUnlock()
	}

	keys, err := fetchJWKS(jwksURL)
	if err != nil {
		return nil, err
	}

	jwksCachesMu.Lock()
	jwksCaches[issuer] = &jwksCache{
		keys:    keys,
		expires: time.Now().Add(1 * time.Hour),
	}
	jwksCachesMu.Unlock()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func fetchJWKS(url string) (map[string]*rsa.PublicKey, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pubKey
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid RSA keys found in JWKS")
	}
	return keys, nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
