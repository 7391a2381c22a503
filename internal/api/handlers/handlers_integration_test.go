package handlers_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/api/handlers"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/auth"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/crypto"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/security"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestEnvironment holds all components needed for integration tests
type TestEnvironment struct {
	DB       *database.Database
	Config   *config.Config
	Transfer *service.TransferRegistry
	Push     *service.PushRegistry
	Router   *gin.Engine
}

// setupTestEnvironment creates a complete test environment with real services
func setupTestEnvironment(t *testing.T) *TestEnvironment {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type:   "sqlite",
			SQLite: config.SQLiteConfig{Path: t.TempDir() + "/test.db"},
		},
		Delivery: config.DeliveryConfig{
			TimestampWindow:        time.Hour,
			EnforceUniquePublicKey: true,
			CodeValidity:           30 * 24 * time.Hour,
			CodeFailAfter:          33 * 24 * time.Hour,
			RetentionPeriod:        7 * 24 * time.Hour,
		},
		JWT: config.JWTConfig{
			Enabled:            true,
			Secret:             "test-secret-key-for-testing-only-12345",
			ResourceAccessPath: "resource_access",
			RolePath:           "/covidcertificate-delivery/roles",
			Role:               "cgs",
		},
		Logging: config.LoggingConfig{Level: "info"},
	}

	db, err := database.New(cfg)
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()), "Failed to run migrations")

	logger := zap.NewNop()
	transfers := service.NewTransferRegistry(db, cfg)
	pushes := service.NewPushRegistry(db)
	engines := crypto.NewEngines(crypto.NewKeyCache(16, time.Minute))
	delivery := service.NewDeliveryService(transfers, engines, security.NewValidator(cfg.Delivery.TimestampWindow), logger)

	validator, err := auth.NewUploadValidator(context.Background(), cfg.JWT, logger)
	require.NoError(t, err)

	router := api.NewRouter(cfg, &api.Services{
		Delivery: delivery,
		Push:     pushes,
		DB:       db,
		Upload:   validator,
	}, logger)

	return &TestEnvironment{
		DB:       db,
		Config:   cfg,
		Transfer: transfers,
		Push:     pushes,
		Router:   router,
	}
}

func (env *TestEnvironment) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

func (env *TestEnvironment) uploadToken(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "cgs",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"resource_access": map[string]interface{}{
			"covidcertificate-delivery": map[string]interface{}{"roles": roles},
		},
	}).SignedString([]byte(env.Config.JWT.Secret))
	require.NoError(t, err)
	return token
}

// wallet is a stand-in for the app holding a P-256 key
type wallet struct {
	priv      *ecdsa.PrivateKey
	publicKey string
}

func newWallet(t *testing.T) *wallet {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub, err := priv.PublicKey.ECDH()
	require.NoError(t, err)
	return &wallet{priv: priv, publicKey: base64.StdEncoding.EncodeToString(pub.Bytes())}
}

func (w *wallet) signed(t *testing.T, action security.Action, code string) map[string]string {
	payload := fmt.Sprintf("%s:%s:%d", action, code, time.Now().UnixMilli())
	digest := sha256.Sum256([]byte(payload))
	sig, err := ecdsa.SignASN1(rand.Reader, w.priv, digest[:])
	require.NoError(t, err)
	return map[string]string{
		"code":             code,
		"signaturePayload": payload,
		"signature":        base64.StdEncoding.EncodeToString(sig),
	}
}

func (w *wallet) decrypt(t *testing.T, encoded string) string {
	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	ephemeral, err := ecdh.P256().NewPublicKey(data[:65])
	require.NoError(t, err)
	priv, err := w.priv.ECDH()
	require.NoError(t, err)
	secret, err := priv.ECDH(ephemeral)
	require.NoError(t, err)

	h := sha256.New()
	h.Write(secret)
	h.Write([]byte{0, 0, 0, 1})
	h.Write(data[:65])
	derived := h.Sum(nil)

	block, err := aes.NewCipher(derived[:16])
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	require.NoError(t, err)
	plaintext, err := gcm.Open(nil, derived[16:32], data[65:], nil)
	require.NoError(t, err)
	return string(plaintext)
}

// TestDelivery_Integration walks one transfer through register, upload, fetch and complete
func TestDelivery_Integration(t *testing.T) {
	env := setupTestEnvironment(t)
	app := newWallet(t)
	const code = "K7M2P9X4A"

	t.Run("Register", func(t *testing.T) {
		body := app.signed(t, security.ActionRegister, code)
		body["publicKey"] = app.publicKey
		body["algorithm"] = "EC256"

		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert/register", body, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, code, resp["code"])
		assert.NotEmpty(t, resp["expiresAt"])
		assert.NotEmpty(t, resp["failsAt"])
	})

	t.Run("Register again conflicts", func(t *testing.T) {
		body := app.signed(t, security.ActionRegister, code)
		body["publicKey"] = app.publicKey
		body["algorithm"] = "EC256"

		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert/register", body, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Fetch before upload is empty", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", app.signed(t, security.ActionGet, code), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"covidCerts":[]}`, w.Body.String())
	})

	t.Run("Upload requires token", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/cgs/delivery/v1/covidcert", map[string]string{"code": code, "hcert": "x", "pdf": "y"}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Upload requires role", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/cgs/delivery/v1/covidcert", map[string]string{"code": code, "hcert": "x", "pdf": "y"}, env.uploadToken(t, "viewer"))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Upload for unknown code", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/cgs/delivery/v1/covidcert", map[string]string{"code": "ZZZZZZZZZ", "hcert": "x", "pdf": "y"}, env.uploadToken(t, "cgs"))
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "code not found", w.Body.String())
	})

	t.Run("Upload", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/cgs/delivery/v1/covidcert", map[string]string{
			"code":  code,
			"hcert": "HC1:NCFOXN%TS3DH3ZSUZK+.V0ETD%65NL-AH",
			"pdf":   "JVBERi0xLjcK",
		}, env.uploadToken(t, "cgs"))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("Fetch decrypts to the upload", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", app.signed(t, security.ActionGet, code), "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			CovidCerts []struct {
				EncryptedHcert string `json:"encryptedHcert"`
				EncryptedPdf   string `json:"encryptedPdf"`
			} `json:"covidCerts"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.CovidCerts, 1)
		assert.Equal(t, "HC1:NCFOXN%TS3DH3ZSUZK+.V0ETD%65NL-AH", app.decrypt(t, resp.CovidCerts[0].EncryptedHcert))
		assert.Equal(t, "JVBERi0xLjcK", app.decrypt(t, resp.CovidCerts[0].EncryptedPdf))
	})

	t.Run("Fetch signed by another key is forbidden", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", newWallet(t).signed(t, security.ActionGet, code), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Complete with wrong action looks like a bad signature", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert/complete", app.signed(t, security.ActionGet, code), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "invalid signature", w.Body.String())
	})

	t.Run("Complete", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert/complete", app.signed(t, security.ActionDelete, code), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Complete again still succeeds", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert/complete", app.signed(t, security.ActionDelete, code), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Fetch after complete is not found", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", app.signed(t, security.ActionGet, code), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPushRegistration_Integration(t *testing.T) {
	env := setupTestEnvironment(t)
	ctx := context.Background()

	w := env.do(t, http.MethodPost, "/app/delivery/v1/push/register", map[string]string{
		"pushToken": "apns-token", "pushType": "IOS", "registerId": "device-1",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	count, err := env.Push.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	w = env.do(t, http.MethodPost, "/app/delivery/v1/push/register", map[string]string{
		"pushToken": "", "pushType": "IOS", "registerId": "device-1",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	count, err = env.Push.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOperationalEndpoints_Integration(t *testing.T) {
	env := setupTestEnvironment(t)

	t.Run("Health", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/actuator/health", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodGet, "/app/delivery/v1", nil, "")

		w := env.do(t, http.MethodGet, "/metrics", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "delivery_http_requests_total")
	})

	t.Run("Security headers", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/app/delivery/v1", nil, "")
		assert.Equal(t, handlers.AppHello, w.Body.String())
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	})

	t.Run("Malformed code", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", map[string]string{
			"code": "SHORT", "signaturePayload": "GET:SHORT:0", "signature": "c2ln",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Code outside the alphabet", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/app/delivery/v1/covidcert", map[string]string{
			"code": "ABCDEFGHI", "signaturePayload": "GET:ABCDEFGHI:0", "signature": "c2ln",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid code", w.Body.String())
	})
}
