// Package auth validates the bearer tokens presented to the certificate
// upload API. Tokens are checked against a shared HS256 secret or against a
// JWKS endpoint, and must carry the configured role in their resource access
// claim.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Validation failures
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingRole  = errors.New("missing required role")
)

// signing methods accepted for keys served by a JWKS endpoint
var jwksMethods = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384"}

// Principal is the authenticated caller of the upload API
type Principal struct {
	Subject string
	Roles   []string
}

// UploadValidator validates upload tokens and their role claim
type UploadValidator struct {
	keyfunc            func(ctx context.Context) jwt.Keyfunc
	methods            []string
	issuer             string
	leeway             time.Duration
	resourceAccessPath string
	rolePath           string
	role               string
}

// NewUploadValidator creates a validator from cfg. A JWKS URL wins over a
// secret. The JWKS is refreshed in the background until ctx is done.
func NewUploadValidator(ctx context.Context, cfg config.JWTConfig, logger *zap.Logger) (*UploadValidator, error) {
	switch {
	case cfg.JWKSURL != "":
		storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: 10 * time.Second},
			Ctx:                       ctx,
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           cfg.JWKSRefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Failed to refresh JWKS", zap.String("url", cfg.JWKSURL), zap.Error(err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS storage: %w", err)
		}
		k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
		}
		return NewUploadValidatorWithKeyfunc(k, jwksMethods, cfg), nil

	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		v := newUploadValidator(cfg, []string{"HS256"})
		v.keyfunc = func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (interface{}, error) { return secret, nil }
		}
		return v, nil

	default:
		return nil, fmt.Errorf("neither JWT secret nor JWKS URL configured")
	}
}

// NewUploadValidatorWithKeyfunc creates a validator resolving keys through k
func NewUploadValidatorWithKeyfunc(k keyfunc.Keyfunc, methods []string, cfg config.JWTConfig) *UploadValidator {
	v := newUploadValidator(cfg, methods)
	v.keyfunc = k.KeyfuncCtx
	return v
}

func newUploadValidator(cfg config.JWTConfig, methods []string) *UploadValidator {
	return &UploadValidator{
		methods:            methods,
		issuer:             cfg.Issuer,
		leeway:             cfg.Leeway,
		resourceAccessPath: cfg.ResourceAccessPath,
		rolePath:           cfg.RolePath,
		role:               cfg.Role,
	}
}

// Validate parses tokenString and checks that it grants the upload role
func (v *UploadValidator) Validate(ctx context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims.GetSubject()
	roles := v.roles(claims)
	if v.role != "" && !contains(roles, v.role) {
		return nil, fmt.Errorf("%w: %s", ErrMissingRole, v.role)
	}
	return &Principal{Subject: subject, Roles: roles}, nil
}

// roles resolves rolePath, a JSON pointer, below the resource access claim
func (v *UploadValidator) roles(claims jwt.MapClaims) []string {
	var node interface{} = map[string]interface{}(claims)
	if v.resourceAccessPath != "" {
		node = lookup(node, v.resourceAccessPath)
	}
	for _, segment := range strings.Split(strings.TrimPrefix(v.rolePath, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		node = lookup(node, segment)
	}

	list, ok := node.([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func lookup(node interface{}, key string) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil
	}
	return m[key]
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
