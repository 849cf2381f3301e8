package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/felipecampolina/cachemw/internal/config"
)

// startServer starts an HTTP server if TLS is disabled, otherwise HTTPS. If
// TLS is enabled and no cert/key are provided, a self-signed pair for
// localhost is generated. rootHandler is the fully-wrapped caching handler.
func startServer(appConfig *config.Config, rootHandler http.Handler, logger zerolog.Logger) error {
	if !appConfig.TLS.Enabled {
		logger.Info().Str("addr", appConfig.ListenAddr).Msg("serving HTTP")
		return http.ListenAndServe(appConfig.ListenAddr, rootHandler)
	}

	if appConfig.TLS.CertFile == "" {
		appConfig.TLS.CertFile = "server.crt"
	}
	if appConfig.TLS.KeyFile == "" {
		appConfig.TLS.KeyFile = "server.key"
	}

	if err := ensureSelfSignedIfMissing(appConfig.TLS.CertFile, appConfig.TLS.KeyFile); err != nil {
		logger.Warn().Err(err).Msg("TLS enabled but could not create self-signed cert, falling back to HTTP")
		return http.ListenAndServe(appConfig.ListenAddr, rootHandler)
	}

	server := &http.Server{
		Addr:         appConfig.ListenAddr,
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	logger.Info().
		Str("addr", appConfig.ListenAddr).
		Str("cert", appConfig.TLS.CertFile).
		Str("key", appConfig.TLS.KeyFile).
		Msg("serving HTTPS")
	return server.ListenAndServeTLS(appConfig.TLS.CertFile, appConfig.TLS.KeyFile)
}

// ensureSelfSignedIfMissing generates a localhost self-signed certificate if
// either file is missing.
func ensureSelfSignedIfMissing(certPath, keyPath string) error {
	if fileExists(certPath) && fileExists(keyPath) {
		return nil
	}
	return generateSelfSigned(certPath, keyPath)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// generateSelfSigned creates a 2048-bit RSA key and a self-signed X.509
// certificate for "localhost", valid for one year.
func generateSelfSigned(certPath, keyPath string) error {
	if dir := filepath.Dir(certPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return err
	}

	certTemplate := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"cacheproxy-dev"},
		},
		NotBefore:             time.Now().Add(-1 * time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	certDERBytes, err := x509.CreateCertificate(rand.Reader, certTemplate, certTemplate, &privateKey.PublicKey, privateKey)
	if err != nil {
		return err
	}

	certOutFile, err := os.Create(certPath)
	if err != nil {
		return err
	}
	defer certOutFile.Close()
	if err := pem.Encode(certOutFile, &pem.Block{Type: "CERTIFICATE", Bytes: certDERBytes}); err != nil {
		return err
	}

	keyOutFile, err := os.OpenFile(keyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer keyOutFile.Close()
	return pem.Encode(keyOutFile, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
}
