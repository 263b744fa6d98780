package notify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const vapidFile = "vapid.json"

// LoadOrGenerateVAPID reads persisted VAPID keys from <configDir>/vapid.json,
// generating and saving a fresh P-256 key pair on first run.
func LoadOrGenerateVAPID(configDir string) (VAPIDKeys, error) {
	path := filepath.Join(configDir, vapidFile)

	if data, err := os.ReadFile(path); err == nil {
		var keys VAPIDKeys
		if err := json.Unmarshal(data, &keys); err == nil && keys.PrivateKey != "" {
			return keys, nil
		}
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("notify: generate VAPID key: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("notify: marshal VAPID private key: %w", err)
	}
	pubBytes := elliptic.Marshal(elliptic.P256(), privKey.PublicKey.X, privKey.PublicKey.Y)

	keys := VAPIDKeys{
		PrivateKey: base64.RawURLEncoding.EncodeToString(privBytes),
		PublicKey:  base64.RawURLEncoding.EncodeToString(pubBytes),
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return VAPIDKeys{}, fmt.Errorf("notify: create config dir: %w", err)
	}
	data, _ := json.MarshalIndent(keys, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return VAPIDKeys{}, fmt.Errorf("notify: save VAPID keys: %w", err)
	}

	return keys, nil
}
