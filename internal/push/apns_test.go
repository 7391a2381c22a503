package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"
)

const testTopic = "ch.admin.bag.covidcertificate.wallet"

func mockAPNs(t *testing.T, handler http.HandlerFunc) *APNsClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newAPNsClient(&apns2.Client{Host: server.URL, HTTPClient: server.Client()}, testTopic)
}

func TestAPNsClient_Send(t *testing.T) {
	t.Run("Accepted background push", func(t *testing.T) {
		var body []byte
		client := mockAPNs(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/3/device/device-token", r.URL.Path)
			assert.Equal(t, testTopic, r.Header.Get("apns-topic"))
			assert.Equal(t, "background", r.Header.Get("apns-push-type"))
			assert.Equal(t, "5", r.Header.Get("apns-priority"))
			body, _ = io.ReadAll(r.Body)
			w.Header().Set("apns-id", "apns-123")
			w.WriteHeader(http.StatusOK)
		})

		res, err := client.Send(context.Background(), "device-token")
		require.NoError(t, err)
		assert.True(t, res.Accepted())
		assert.False(t, res.Permanent())
		assert.Equal(t, "apns-123", res.ID)
		assert.Equal(t, "device-token", res.Token)
		assert.JSONEq(t, `{"aps":{"content-available":1}}`, string(body))
	})

	t.Run("Unregistered token is a permanent rejection", func(t *testing.T) {
		client := mockAPNs(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"reason":"Unregistered"}`))
		})

		res, err := client.Send(context.Background(), "dead-token")
		require.NoError(t, err)
		assert.False(t, res.Accepted())
		assert.True(t, res.Permanent())
		assert.Equal(t, apns2.ReasonUnregistered, res.Reason)
	})

	t.Run("Throttling is not permanent", func(t *testing.T) {
		client := mockAPNs(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"reason":"TooManyRequests"}`))
		})

		res, err := client.Send(context.Background(), "busy-token")
		require.NoError(t, err)
		assert.False(t, res.Accepted())
		assert.False(t, res.Permanent())
	})

	t.Run("Timeout surfaces as an error", func(t *testing.T) {
		release := make(chan struct{})
		client := mockAPNs(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := client.Send(ctx, "slow-token")
		assert.Error(t, err)
	})
}

func TestIsPermanentRejection(t *testing.T) {
	for _, reason := range []string{apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic} {
		assert.True(t, IsPermanentRejection(reason), reason)
	}
	for _, reason := range []string{"", apns2.ReasonTooManyRequests, apns2.ReasonInternalServerError, apns2.ReasonExpiredProviderToken} {
		assert.False(t, IsPermanentRejection(reason), reason)
	}
}

func writeSigningKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "AuthKey.p8")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))
	return path
}

func writeCertificate(t *testing.T, password string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Apple Push Services: " + testTopic},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfx, err := pkcs12.Modern2023.Encode(key, cert, nil, password)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "apns.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0600))
	return path
}

func TestNewAPNsClient(t *testing.T) {
	t.Run("Token auth for production", func(t *testing.T) {
		client, err := NewAPNsClient(config.IOSPushConfig{
			Auth:    "token",
			KeyFile: writeSigningKey(t),
			KeyID:   "KEY123",
			TeamID:  "TEAM123",
		}, testTopic, true)
		require.NoError(t, err)
		assert.Equal(t, apns2.HostProduction, client.client.Host)
		require.NotNil(t, client.client.Token)
		assert.Equal(t, "TEAM123", client.client.Token.TeamID)
	})

	t.Run("Certificate auth for the sandbox", func(t *testing.T) {
		client, err := NewAPNsClient(config.IOSPushConfig{
			Auth:         "certificate",
			CertFile:     writeCertificate(t, "changeit"),
			CertPassword: "changeit",
		}, testTopic, false)
		require.NoError(t, err)
		assert.Equal(t, apns2.HostDevelopment, client.client.Host)
	})

	t.Run("Missing signing key fails", func(t *testing.T) {
		_, err := NewAPNsClient(config.IOSPushConfig{Auth: "token", KeyFile: "/non/existent.p8"}, testTopic, true)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "signing key")
	})

	t.Run("Unknown auth fails", func(t *testing.T) {
		_, err := NewAPNsClient(config.IOSPushConfig{Auth: "basic"}, testTopic, true)
		assert.Error(t, err)
	})
}

func TestLoadCertificate(t *testing.T) {
	t.Run("Decode with the right password", func(t *testing.T) {
		cert, err := LoadCertificate(writeCertificate(t, "secret"), "secret")
		require.NoError(t, err)
		require.NotNil(t, cert.Leaf)
		assert.Equal(t, "Apple Push Services: "+testTopic, cert.Leaf.Subject.CommonName)
		assert.NotNil(t, cert.PrivateKey)
	})

	t.Run("Wrong password fails", func(t *testing.T) {
		_, err := LoadCertificate(writeCertificate(t, "secret"), "wrong")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode APNs certificate")
	})

	t.Run("Missing file fails", func(t *testing.T) {
		_, err := LoadCertificate("/non/existent.p12", "")
		assert.Error(t, err)
	})
}

func TestLoggingClient(t *testing.T) {
	client := NewLoggingClient(zap.NewNop(), "production")

	res, err := client.Send(context.Background(), "token")
	require.NoError(t, err)
	assert.True(t, res.Accepted())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Send(ctx, "token")
	assert.ErrorIs(t, err, context.Canceled)
}
