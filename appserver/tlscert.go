package appserver

// tlscert.go provisions a self-signed certificate when the operator has not
// supplied one. Clients in this deployment pin or skip verification; the
// certificate exists to get the transport encrypted, not to prove identity
// to the public internet.

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"time"

	"gitlab.com/NebulousLabs/errors"
)

// ensureCertificate writes a self-signed RSA certificate and key to the
// given paths unless both already exist.
func ensureCertificate(certFile, keyFile string) error {
	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)
	if certErr == nil && keyErr == nil {
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errors.AddContext(err, "unable to generate tls key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errors.AddContext(err, "unable to generate certificate serial")
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "aurex-appserver"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return errors.AddContext(err, "unable to create certificate")
	}

	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return errors.AddContext(err, "unable to encode tls key")
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certFile, certOut, 0644); err != nil {
		return errors.AddContext(err, "unable to write certificate file")
	}
	if err := os.WriteFile(keyFile, keyOut, 0600); err != nil {
		return errors.AddContext(err, "unable to write key file")
	}
	return nil
}
