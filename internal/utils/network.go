package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP extracts the client IP of a request that may have passed through
// reverse proxies. Payment gateways redirect the user's browser to our
// callback, so this is the user's address, not the gateway's.
//
// Priority: X-Real-IP, the first public address in X-Forwarded-For, then
// gin's ClientIP.
func GetRealIP(c *gin.Context) string {
	realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP"))
	if ip := net.ParseIP(realIP); ip != nil && isPublicIP(ip) {
		return realIP
	}

	forwarded := c.Request.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for _, hop := range hops {
			candidate := strings.TrimSpace(hop)
			if ip := net.ParseIP(candidate); ip != nil && isPublicIP(ip) {
				return candidate
			}
		}
		// all private: the closest hop to the client is still the best guess
		if first := strings.TrimSpace(hops[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}

func isPublicIP(ip net.IP) bool {
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}
