package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"riskgate/pkg/crypto"
)

// maxCachedTokens ограничивает кэш проверенных токенов
const maxCachedTokens = 64

// Auth проверяет "Authorization: Bearer <token>" по bcrypt хешу.
//
// Пустой tokenHash отключает проверку. Успешно проверенные токены
// кэшируются по sha256, чтобы не платить за bcrypt на каждом запросе.
func Auth(tokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")
	cache := &tokenCache{verified: make(map[[32]byte]struct{})}

	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			key := sha256.Sum256([]byte(token))
			if !cache.has(key) {
				if err := crypto.VerifyToken(token, tokenHash); err != nil {
					logger.Info("rejected api token",
						zap.String("path", r.URL.Path),
						zap.String("remote", r.RemoteAddr),
						zap.Error(err),
					)
					unauthorized(w)
					return
				}
				cache.add(key)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="riskgate"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

type tokenCache struct {
	mu       sync.RWMutex
	verified map[[32]byte]struct{}
}

func (c *tokenCache) has(key [32]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.verified[key]
	return ok
}

func (c *tokenCache) add(key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.verified) >= maxCachedTokens {
		c.verified = make(map[[32]byte]struct{})
	}
	c.verified[key] = struct{}{}
}
