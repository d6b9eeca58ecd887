package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	shopSuffix = "myshopify.com"
	clockSkew  = 10 * time.Second
)

// SessionClaims is the payload of a Shopify App Bridge session token.
type SessionClaims struct {
	Iss  string `json:"iss"`
	Dest string `json:"dest"`
	Aud  string `json:"aud"`
	Sub  string `json:"sub"`
	Exp  int64  `json:"exp"`
	Nbf  int64  `json:"nbf"`
	Iat  int64  `json:"iat"`
	Jti  string `json:"jti"`
	Sid  string `json:"sid"`
}

type shopKey struct{}

var (
	errMalformedToken = errors.New("malformed session token")
	errBadSignature   = errors.New("invalid session token signature")
	errExpiredToken   = errors.New("session token expired")
	errInvalidShop    = errors.New("session token has no valid shop")
	errWrongAudience  = errors.New("session token issued for another app")
)

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// SignSessionToken produces an HS256 token, mostly for tests and local tooling.
func SignSessionToken(secret string, claims SessionClaims) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySessionToken checks the signature and time window of token and
// returns its claims. The exp claim is required and dest must name a
// myshopify.com shop. When apiKey is set, aud must equal it.
func VerifySessionToken(secret, apiKey, token string, now time.Time) (*SessionClaims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errMalformedToken
	}
	var header tokenHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil || header.Alg != "HS256" {
		return nil, errMalformedToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errBadSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errMalformedToken
	}
	var claims SessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errMalformedToken
	}
	if claims.Exp == 0 || now.Add(-clockSkew).Unix() > claims.Exp {
		return nil, errExpiredToken
	}
	if claims.Nbf != 0 && now.Add(clockSkew).Unix() < claims.Nbf {
		return nil, errExpiredToken
	}
	if apiKey != "" && claims.Aud != apiKey {
		return nil, errWrongAudience
	}
	if _, ok := ShopFromDest(claims.Dest); !ok {
		return nil, errInvalidShop
	}
	return &claims, nil
}

// ShopFromDest extracts the shop domain from a dest claim such as
// "https://demo.myshopify.com".
func ShopFromDest(dest string) (string, bool) {
	dest = strings.TrimSpace(dest)
	if !strings.Contains(dest, "://") {
		dest = "https://" + dest
	}
	u, err := url.Parse(dest)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !ValidShopDomain(host) {
		return "", false
	}
	return host, true
}

// ValidShopDomain reports whether host is exactly "<shop>.myshopify.com".
func ValidShopDomain(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	suffix, _ := publicsuffix.PublicSuffix(host)
	if suffix != shopSuffix {
		return false
	}
	label := strings.TrimSuffix(host, "."+shopSuffix)
	if label == "" || label == host || strings.Contains(label, ".") {
		return false
	}
	for _, r := range label {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return label[0] != '-' && label[len(label)-1] != '-'
}

// ShopSession resolves the tenant shop from the Authorization bearer token or
// the id_token query parameter. With allowHeader set, a plain X-Shop-Domain
// header is accepted as well; that path is meant for local development.
func ShopSession(secret, apiKey string, allowHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			shop := ""
			if token := sessionToken(r); token != "" && secret != "" {
				if claims, err := VerifySessionToken(secret, apiKey, token, time.Now()); err == nil {
					shop, _ = ShopFromDest(claims.Dest)
				}
			}
			if shop == "" && allowHeader {
				if h := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Shop-Domain"))); ValidShopDomain(h) {
					shop = h
				}
			}
			if shop == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "Shop not authenticated."})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithShop(r.Context(), shop)))
		})
	}
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("id_token"))
}

// ShopFromContext returns the authenticated shop domain, or "".
func ShopFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(shopKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextWithShop stores shop as the request tenant.
func ContextWithShop(ctx context.Context, shop string) context.Context {
	if strings.TrimSpace(shop) == "" {
		return ctx
	}
	return context.WithValue(ctx, shopKey{}, shop)
}
