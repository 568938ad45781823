package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigningSecret is the HS256 secret shared by the mock backend and the BFF.
const testSigningSecret = "clamflow-integration-secret"

// TestUser describes the account a mock login returns.
type TestUser struct {
	ID       string
	Username string
	FullName string
	Role     string
	Extra    map[string]any
}

// tokenIssuer signs access tokens the way the backend's auth endpoint does.
type tokenIssuer struct {
	secret []byte
	issuer string
}

func newTokenIssuer(secret string) *tokenIssuer {
	return &tokenIssuer{
		secret: []byte(secret),
		issuer: "https://api.clamflow.test",
	}
}

// GenerateToken creates a signed access token for u valid for ttl.
func (ti *tokenIssuer) GenerateToken(u TestUser, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  ti.issuer,
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(ttl)),
		"sub":  u.ID,
		"role": u.Role,
	}
	maps.Copy(claims, u.Extra)
	return ti.sign(claims)
}

// GenerateExpiredToken creates a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(u TestUser) string {
	now := time.Now()
	return ti.sign(jwt.MapClaims{
		"iss":  ti.issuer,
		"iat":  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		"exp":  jwt.NewNumericDate(now.Add(-1 * time.Hour)),
		"sub":  u.ID,
		"role": u.Role,
	})
}

// GenerateForeignToken creates a token signed with a different secret.
func (ti *tokenIssuer) GenerateForeignToken(u TestUser) string {
	other := &tokenIssuer{secret: []byte("not-the-shared-secret"), issuer: ti.issuer}
	return other.GenerateToken(u, time.Hour)
}

func (ti *tokenIssuer) sign(claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// Predefined accounts for the plant roles exercised by the scenarios.

func ProductionLead() TestUser {
	return TestUser{ID: "101", Username: "lead.asha", FullName: "Asha Lead", Role: "Production Lead"}
}

func QCStaff() TestUser {
	return TestUser{ID: "102", Username: "qc.ravi", FullName: "Ravi QC", Role: "QC Staff"}
}

func QCLead() TestUser {
	return TestUser{ID: "103", Username: "qclead.mina", FullName: "Mina QC Lead", Role: "QC Lead"}
}

func SecurityGuard() TestUser {
	return TestUser{ID: "104", Username: "gate.joe", FullName: "Joe Gate", Role: "Security Guard"}
}

func SuperAdmin() TestUser {
	return TestUser{ID: "1", Username: "root", FullName: "Plant Owner", Role: "Super Admin"}
}
