package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xelth-com/cdchub/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrTokenInvalid   = errors.New("auth: token invalid")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTenantInactive = errors.New("auth: tenant inactive")
	ErrAuthFailed     = errors.New("auth: credentials rejected")
)

// SessionIdentity is what a successful handshake or token validation
// yields: the tenant/branch pair a Session will be bound to.
type SessionIdentity struct {
	TenantID string
	BranchID string
}

// Authenticator validates bearer credentials at handshake and issues the
// short-lived JWTs branches use to open a session.
type Authenticator struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

func NewAuthenticator(db *gorm.DB, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{db: db, secret: []byte(secret), ttl: ttl}
}

// IssueToken verifies (tenant_id, branch_id, api_key) against the metadata
// store and, on success, signs a short-lived JWT carrying that identity.
func (a *Authenticator) IssueToken(tenantID, branchID, apiKey string) (string, error) {
	var tenant models.Tenant
	if err := a.db.Where("tenant_id = ?", tenantID).First(&tenant).Error; err != nil {
		return "", ErrAuthFailed
	}
	if !tenant.IsActive() {
		return "", ErrTenantInactive
	}

	var branch models.Branch
	if err := a.db.Where("tenant_id = ? AND id = ?", tenantID, branchID).First(&branch).Error; err != nil {
		return "", ErrAuthFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(branch.APIKeyHash), []byte(apiKey)) != nil {
		return "", ErrAuthFailed
	}

	claims := jwt.MapClaims{
		"tenant_id": tenantID,
		"branch_id": branchID,
		"exp":       time.Now().Add(a.ttl).Unix(),
		"iat":       time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate decodes and verifies a handshake bearer token, then checks
// the tenant is active. api_key_hash comparison already happened at issue
// time; Authenticate trusts a valid signature as proof of that check.
func (a *Authenticator) Authenticate(tokenString string) (SessionIdentity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionIdentity{}, ErrTokenExpired
		}
		return SessionIdentity{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return SessionIdentity{}, ErrTokenInvalid
	}

	tenantID, _ := claims["tenant_id"].(string)
	branchID, _ := claims["branch_id"].(string)
	if tenantID == "" || branchID == "" {
		return SessionIdentity{}, ErrTokenInvalid
	}

	var tenant models.Tenant
	if err := a.db.Where("tenant_id = ?", tenantID).First(&tenant).Error; err != nil {
		return SessionIdentity{}, ErrTenantInactive
	}
	if !tenant.IsActive() {
		return SessionIdentity{}, ErrTenantInactive
	}

	return SessionIdentity{TenantID: tenantID, BranchID: branchID}, nil
}

// HashAPIKey bcrypt-hashes a plaintext api key for storage in Branch.APIKeyHash.
func HashAPIKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hash), err
}
