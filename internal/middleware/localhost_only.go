package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly admin API network restriction: loopback plus the configured IPs and CIDRs
type LocalhostOnly struct {
	logger     *logrus.Entry
	allowedIPs []net.IP
	allowedNet []*net.IPNet
}

// NewLocalhostOnly parses allowed; malformed entries are logged and skipped.
func NewLocalhostOnly(logger *logrus.Entry, allowed []string) *LocalhostOnly {
	l := &LocalhostOnly{logger: logger}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.WithField("allowed", entry).WithError(err).Warn("Invalid CIDR in admin.allowedIPs")
				continue
			}
			l.allowedNet = append(l.allowedNet, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.WithField("allowed", entry).Warn("Invalid IP in admin.allowedIPs")
			continue
		}
		l.allowedIPs = append(l.allowedIPs, ip)
	}
	return l
}

// Restrict rejects clients outside the allow list with 403.
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !l.isAllowedIP(clientIP) {
			l.logger.WithFields(logrus.Fields{
				"client_ip":  clientIP,
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"user_agent": c.GetHeader("User-Agent"),
			}).Warn("Reject non-whitelisted access to admin API")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "This API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}
		c.Next()
	}
}

func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() {
		return true
	}
	for _, allowed := range l.allowedIPs {
		if allowed.Equal(parsed) {
			return true
		}
	}
	for _, ipNet := range l.allowedNet {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
