package push

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"software.sslmate.com/src/go-pkcs12"
)

// APNsClient sends background pushes through one APNs environment
type APNsClient struct {
	client *apns2.Client
	topic  string
}

// NewAPNsClient builds a client for production or the sandbox from either a
// p8 signing key or a p12 client certificate
func NewAPNsClient(cfg config.IOSPushConfig, topic string, production bool) (*APNsClient, error) {
	var client *apns2.Client

	switch cfg.Auth {
	case "token":
		authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load APNs signing key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		})
	case "certificate":
		cert, err := LoadCertificate(cfg.CertFile, cfg.CertPassword)
		if err != nil {
			return nil, err
		}
		client = apns2.NewClient(cert)
	default:
		return nil, fmt.Errorf("unsupported APNs auth: %s", cfg.Auth)
	}

	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return newAPNsClient(client, topic), nil
}

func newAPNsClient(client *apns2.Client, topic string) *APNsClient {
	return &APNsClient{client: client, topic: topic}
}

// Send submits a content-available notification at power-conserving priority
func (c *APNsClient) Send(ctx context.Context, deviceToken string) (*Response, error) {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.topic,
		Payload:     payload.NewPayload().ContentAvailable(),
		Priority:    apns2.PriorityLow,
		PushType:    apns2.PushTypeBackground,
	}

	res, err := c.client.PushWithContext(ctx, notification)
	if err != nil {
		return nil, fmt.Errorf("failed to send push: %w", err)
	}
	return &Response{
		Token:      deviceToken,
		ID:         res.ApnsID,
		StatusCode: res.StatusCode,
		Reason:     res.Reason,
	}, nil
}

// LoadCertificate reads a PKCS#12 APNs client certificate
func LoadCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read APNs certificate: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode APNs certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
