package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alialinx/mini-gateway/pkg/cryptox"
	"github.com/alialinx/mini-gateway/pkg/jwtx"
)

// NewSigner builds the access token signer named by ALGORITHM. Errors here
// are fatal; the gateway must not accept traffic without a working key.
func NewSigner(cfg Config, logger *slog.Logger) (jwtx.Signer, error) {
	if jwtx.IsHMAC(cfg.Algorithm) {
		signer, err := jwtx.NewSignerHMAC("", strings.ToUpper(cfg.Algorithm), []byte(cfg.SecretKey))
		if err != nil {
			return nil, fmt.Errorf("hmac signer: %w", err)
		}
		if len(cfg.SecretKey) < jwtx.MinHMACSecretLength {
			logger.Warn("short SECRET_KEY accepted in dev", "length", len(cfg.SecretKey))
		}
		logger.Info("access token signer ready", "algorithm", signer.Alg())
		return signer, nil
	}

	pemKey, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	signer, err := jwtx.NewSignerEdDSA("", pemKey)
	if err != nil {
		return nil, fmt.Errorf("eddsa signer: %w", err)
	}
	logger.Info("access token signer ready", "algorithm", signer.Alg(), "key_file", cfg.SigningKeyFile)
	return signer, nil
}

// LoadPepper returns HASH_PEPPER, or the pepper file's contents, generating
// the file on first start.
func LoadPepper(cfg Config, logger *slog.Logger) ([]byte, error) {
	if cfg.HashPepper != "" {
		return []byte(cfg.HashPepper), nil
	}
	pepper, err := cryptox.LoadOrGeneratePepper(cfg.HashPepperFile)
	if err != nil {
		return nil, err
	}
	logger.Info("hash pepper loaded", "path", cfg.HashPepperFile)
	return pepper, nil
}
