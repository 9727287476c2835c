package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/internal/service"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
	"github.com/noah-isme/worklog-auth/pkg/logger"
	"github.com/noah-isme/worklog-auth/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing the *models.Identity.
	ContextUserKey = "currentUser"
	// ContextClientIPKey is the gin context key storing the resolved client address.
	ContextClientIPKey = "clientIP"

	HeaderAPIKey       = "X-API-Key"
	HeaderSetAuthToken = "X-Set-Auth-Token"
	HeaderRealIP       = "X-Real-IP"
	CookieToken        = "token"
)

// Authenticator resolves request credentials to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, creds service.RequestCredentials) (*service.AuthResult, error)
}

// TokenTransport writes access tokens to responses.
type TokenTransport struct {
	UseCookies bool
	Secure     bool
	Domain     string
	// CookieMaxAge of zero makes the cookie last for the browser session.
	CookieMaxAge time.Duration
}

// Issue hands token to the client in the header and, when enabled, the cookie.
func (t TokenTransport) Issue(c *gin.Context, token string) {
	c.Header(HeaderSetAuthToken, token)
	if t.UseCookies {
		dropCookie(c, CookieToken)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieToken, token, int(t.CookieMaxAge.Seconds()), "/", t.Domain, t.Secure, true)
	}
}

// Clear tells the client to drop its token.
func (t TokenTransport) Clear(c *gin.Context) {
	c.Header(HeaderSetAuthToken, service.LogoutSentinel)
	if t.UseCookies {
		dropCookie(c, CookieToken)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieToken, service.LogoutSentinel, -1, "/", t.Domain, t.Secure, true)
	}
}

// dropCookie removes a Set-Cookie for name written earlier in this response,
// so the next write replaces it instead of adding a second one.
func dropCookie(c *gin.Context, name string) {
	header := c.Writer.Header()
	prefix := name + "="
	var kept []string
	for _, value := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(value, prefix) {
			kept = append(kept, value)
		}
	}
	header.Del("Set-Cookie")
	for _, value := range kept {
		header.Add("Set-Cookie", value)
	}
}

// Authenticate attaches the identity behind the request, if any. Requests
// without credentials pass through anonymously; rejected credentials end
// the request. A token refreshed along the way is handed back to the client.
func Authenticate(auth Authenticator, tokens TokenTransport) gin.HandlerFunc {
	return func(c *gin.Context) {
		creds := service.RequestCredentials{
			APIKey:        c.GetHeader(HeaderAPIKey),
			Authorization: c.GetHeader("Authorization"),
		}
		if tokens.UseCookies {
			if value, err := c.Cookie(CookieToken); err == nil {
				creds.Cookie = value
			}
		}

		result, err := auth.Authenticate(c.Request.Context(), creds)
		if err != nil {
			if creds.APIKey == "" && appErrors.IsClientError(err) {
				tokens.Clear(c)
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		if result != nil {
			if result.Token != nil {
				tokens.Issue(c, result.Token.Token)
			}
			SetIdentity(c, result.Identity)
		}
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c) == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SetIdentity stores identity on the request and in its access log line.
func SetIdentity(c *gin.Context, identity *models.Identity) {
	if identity == nil {
		return
	}
	c.Set(ContextUserKey, identity)
	logger.Annotate(c, zap.Int64("user_id", identity.UserID), zap.String("credential", string(identity.Credential)))
}

// IdentityFrom returns the identity attached by Authenticate.
func IdentityFrom(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	identity, _ := value.(*models.Identity)
	return identity
}

// ClientIP resolves the client address. Behind a reverse proxy on the same
// host the peer is loopback and the proxy passes the real address in
// X-Real-IP.
func ClientIP(trustProxy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.RemoteIP()
		if trustProxy {
			if peer := net.ParseIP(ip); peer != nil && peer.IsLoopback() {
				if forwarded := net.ParseIP(c.GetHeader(HeaderRealIP)); forwarded != nil {
					ip = forwarded.String()
				}
			}
		}
		c.Set(ContextClientIPKey, ip)
		c.Next()
	}
}

// ClientIPFrom returns the address resolved by ClientIP, falling back to the
// peer address.
func ClientIPFrom(c *gin.Context) string {
	if value, ok := c.Get(ContextClientIPKey); ok {
		if ip, ok := value.(string); ok && ip != "" {
			return ip
		}
	}
	return c.RemoteIP()
}
