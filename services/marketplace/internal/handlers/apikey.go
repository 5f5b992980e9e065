package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/veridianlabs/nftmarket/libs/apikey"
)

const (
	apiKeyHeader         = "X-API-Key"
	contextNotifierIDKey = "notifier_id"
)

// KeyResolver finds the issued key record for a key prefix.
type KeyResolver interface {
	Resolve(prefix string) (apikey.Record, bool)
}

// StaticKeys is a fixed prefix-to-record table, loaded at startup.
type StaticKeys map[string]apikey.Record

func (s StaticKeys) Resolve(prefix string) (apikey.Record, bool) {
	record, ok := s[prefix]
	return record, ok
}

// APIKeyMiddleware authenticates callback requests from peer services
// and stores the notifier account the key was issued for.
func APIKeyMiddleware(keys KeyResolver, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "missing api key"})
			return
		}

		_, prefix, _, err := apikey.Parse(key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid api key"})
			return
		}

		record, ok := keys.Resolve(prefix)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "unknown api key"})
			return
		}

		notifier, err := apikey.VerifyNotifier(key, record, c.ClientIP())
		if err != nil {
			logger.Warn("api key rejected", "prefix", prefix, "ip", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid api key"})
			return
		}

		c.Set(contextNotifierIDKey, notifier)
		c.Next()
	}
}

func notifierFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(contextNotifierIDKey)
	if !ok {
		return "", false
	}
	notifier, ok := val.(string)
	if !ok || notifier == "" {
		return "", false
	}
	return notifier, true
}
