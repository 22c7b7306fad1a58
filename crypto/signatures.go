package crypto

// signatures.go holds the block signing keys. Every node carries an RSA-2048
// keypair; blocks are signed with RSA-PSS over the hex form of the block
// hash, and the public key travels with the block in PEM form so that
// verifiers need no prior knowledge of the miner.

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
)

const (
	// KeyBits is the RSA modulus size for node keys.
	KeyBits = 2048

	privateKeyPEMType = "PRIVATE KEY"
	publicKeyPEMType  = "PUBLIC KEY"
)

var (
	// ErrNilInput is returned when signing with an uninitialized keypair.
	ErrNilInput = errors.New("cannot use nil input")

	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// pssOptions returns the PSS parameters used for both signing and
// verification: MGF1 with sha256 and the maximum salt length.
func pssOptions() *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       stdcrypto.SHA256,
	}
}

// A KeyPair holds a node's RSA private key and the PEM encoding of its
// public key.
type KeyPair struct {
	priv      *rsa.PrivateKey
	publicPEM string
}

// GenerateKeyPair creates a new RSA-2048 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, errors.AddContext(err, "unable to generate rsa key")
	}
	return newKeyPair(priv)
}

// newKeyPair wraps a private key, precomputing the public PEM.
func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errors.AddContext(err, "unable to marshal public key")
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: pubDER})
	return &KeyPair{priv: priv, publicPEM: string(pubPEM)}, nil
}

// PublicKeyPEM returns the PEM encoding of the public key, as transported
// inside blocks.
func (kp *KeyPair) PublicKeyPEM() string {
	return kp.publicPEM
}

// Sign signs data with RSA-PSS and returns the signature hex-encoded. For
// blocks, data is the hex ASCII of the block hash.
func (kp *KeyPair) Sign(data []byte) (string, error) {
	if kp == nil || kp.priv == nil {
		return "", ErrNilInput
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, kp.priv, stdcrypto.SHA256, digest[:], pssOptions())
	if err != nil {
		return "", errors.AddContext(err, "unable to sign data")
	}
	return hex.EncodeToString(sig), nil
}

// ParsePublicKeyPEM decodes a PEM encoded SubjectPublicKeyInfo RSA key.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no pem block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.AddContext(err, "unable to parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an rsa key")
	}
	return rsaPub, nil
}

// Verify checks an RSA-PSS signature made by Sign against the supplied PEM
// public key. Any failure, malformed key, malformed signature, or a digest
// mismatch, yields ErrInvalidSignature.
func Verify(pemStr string, data []byte, hexSig string) error {
	pub, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return errors.Compose(ErrInvalidSignature, err)
	}
	return VerifyParsed(pub, data, hexSig)
}

// VerifyParsed is Verify for a key that has already been parsed. Validation
// paths that see the same miner repeatedly cache the parsed key and call
// this directly.
func VerifyParsed(pub *rsa.PublicKey, data []byte, hexSig string) error {
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return errors.Compose(ErrInvalidSignature, err)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], sig, pssOptions()); err != nil {
		return errors.Compose(ErrInvalidSignature, err)
	}
	return nil
}

// SaveKeyPair writes the private key (PKCS#8) and public key (PKIX) PEM
// files for a node into dir. Files are named after the node id, matching
// what LoadKeyPair expects.
func (kp *KeyPair) SaveKeyPair(dir, nodeID string) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(kp.priv)
	if err != nil {
		return errors.AddContext(err, "unable to marshal private key")
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: privDER})
	err = os.WriteFile(privateKeyPath(dir, nodeID), privPEM, 0600)
	if err != nil {
		return errors.AddContext(err, "unable to write private key file")
	}
	err = os.WriteFile(publicKeyPath(dir, nodeID), []byte(kp.publicPEM), 0644)
	if err != nil {
		return errors.AddContext(err, "unable to write public key file")
	}
	return nil
}

// LoadKeyPair reads a node's persisted private key and rebuilds the keypair.
func LoadKeyPair(dir, nodeID string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privateKeyPath(dir, nodeID))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("no pem block found in private key file")
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.AddContext(err, "unable to parse private key")
	}
	priv, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key file does not hold an rsa key")
	}
	return newKeyPair(priv)
}

// LoadOrGenerateKeyPair loads the node's keypair from dir, generating and
// persisting a fresh one on first boot.
func LoadOrGenerateKeyPair(dir, nodeID string) (*KeyPair, error) {
	kp, err := LoadKeyPair(dir, nodeID)
	if err == nil {
		return kp, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := kp.SaveKeyPair(dir, nodeID); err != nil {
		return nil, err
	}
	return kp, nil
}

func privateKeyPath(dir, nodeID string) string {
	return filepath.Join(dir, nodeID+"_private.pem")
}

func publicKeyPath(dir, nodeID string) string {
	return filepath.Join(dir, nodeID+"_public.pem")
}
