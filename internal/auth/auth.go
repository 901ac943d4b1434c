// Package auth guards the admin endpoints with a bcrypt password and checks
// the optional submit token, with brute-force protection per client IP.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminUser        = "admin"
	Realm            = "receipt-daemon"
	MaxLoginAttempts = 5
	LockoutDuration  = 5 * time.Minute
	CleanupInterval  = 5 * time.Minute
)

type failInfo struct {
	count       int
	lockedUntil time.Time
}

// Manager validates admin credentials and submit tokens.
type Manager struct {
	hash         []byte
	token        string
	logger       *zap.Logger
	failedLogins map[string]failInfo
	mu           sync.RWMutex
	now          func() time.Time
}

// NewManager creates an auth manager with a cleanup goroutine bound to ctx.
// hashB64 is the base64-encoded bcrypt hash of the admin password; when empty
// the admin endpoints are open (dev mode). token is the shared submit token;
// when empty submissions are accepted without one.
func NewManager(ctx context.Context, hashB64, token string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		token:        token,
		logger:       logger,
		failedLogins: make(map[string]failInfo),
		now:          time.Now,
	}
	if hashB64 != "" {
		hash, err := base64.StdEncoding.DecodeString(hashB64)
		if err != nil {
			// keep auth enabled with an unusable hash rather than open the endpoints
			logger.Error("failed to decode password hash from base64", zap.Error(err))
			hash = []byte("invalid")
		}
		m.hash = hash
	}
	go m.cleanupLoop(ctx)
	logger.Info("auth manager initialized", zap.Bool("admin_auth", m.Enabled()), zap.Bool("submit_token", m.TokenRequired()))
	return m
}

// Enabled returns true if a password hash was configured.
func (m *Manager) Enabled() bool {
	return m.hash != nil
}

// TokenRequired reports whether submissions must carry the submit token.
func (m *Manager) TokenRequired() bool {
	return m.token != ""
}

// ValidatePassword compares with bcrypt.
func (m *Manager) ValidatePassword(password string) bool {
	if !m.Enabled() {
		return true
	}
	return bcrypt.CompareHashAndPassword(m.hash, []byte(password)) == nil
}

// ValidateToken compares the submit token in constant time.
func (m *Manager) ValidateToken(token string) bool {
	if !m.TokenRequired() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// IsLockedOut returns true if the IP has exceeded MaxLoginAttempts.
func (m *Manager) IsLockedOut(ip string) bool {
	m.mu.RLock()
	info, exists := m.failedLogins[ip]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return info.count >= MaxLoginAttempts && m.now().Before(info.lockedUntil)
}

// RecordFailedLogin increments the failure counter for an IP.
func (m *Manager) RecordFailedLogin(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.failedLogins[ip]
	info.count++
	if info.count >= MaxLoginAttempts {
		info.lockedUntil = m.now().Add(LockoutDuration)
		m.logger.Warn("AUDIT: ip locked out",
			zap.String("ip", ip),
			zap.Duration("for", LockoutDuration),
			zap.Int("attempts", info.count))
	}
	m.failedLogins[ip] = info
}

// ClearFailedLogins resets the counter on successful login.
func (m *Manager) ClearFailedLogins(ip string) {
	m.mu.Lock()
	delete(m.failedLogins, ip)
	m.mu.Unlock()
}

// RequireAdmin wraps next with HTTP basic auth for the admin user.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r)
		if m.IsLockedOut(ip) {
			http.Error(w, "too many failed attempts, try again later", http.StatusTooManyRequests)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(AdminUser)) != 1 || !m.ValidatePassword(pass) {
			if ok {
				m.RecordFailedLogin(ip)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		m.ClearFailedLogins(ip)
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the remote host without port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("auth cleanup goroutine stopped")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.failedLogins {
		if v.count >= MaxLoginAttempts && now.After(v.lockedUntil) {
			delete(m.failedLogins, k)
		}
	}
}
