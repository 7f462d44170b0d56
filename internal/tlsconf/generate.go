package tlsconf

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Algorithm is a signature algorithm for generated keys.
type Algorithm string

const (
	AlgorithmECDSAP256 Algorithm = "ecdsa-p256"
	AlgorithmECDSAP384 Algorithm = "ecdsa-p384"
	AlgorithmEd25519   Algorithm = "ed25519"
)

// Algorithms lists the supported algorithms.
var Algorithms = []Algorithm{AlgorithmECDSAP256, AlgorithmECDSAP384, AlgorithmEd25519}

// CertificateRequest describes a self-signed certificate.
type CertificateRequest struct {
	Algorithm  Algorithm
	CommonName string
	Hosts      []string
	ValidFor   time.Duration
}

// KeyPair holds PEM encoded material.
type KeyPair struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// TLSCertificate parses the pair for use in a tls.Config.
func (kp KeyPair) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(kp.CertificatePEM, kp.PrivateKeyPEM)
}

// CertPool returns a pool trusting the generated certificate.
func (kp KeyPair) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(kp.CertificatePEM)
	return pool
}

func generateKey(alg Algorithm) (crypto.Signer, error) {
	switch Algorithm(strings.ToLower(string(alg))) {
	case "", AlgorithmECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgorithmECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case AlgorithmEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	default:
		return nil, errors.Errorf("unsupported algorithm %q", alg)
	}
}

// GenerateSelfSigned creates a private key and a self-signed certificate that
// is valid for the requested hosts (DNS names or IP addresses).
func GenerateSelfSigned(req CertificateRequest) (KeyPair, error) {
	key, err := generateKey(req.Algorithm)
	if err != nil {
		return KeyPair{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "generate serial number")
	}

	validFor := req.ValidFor
	if validFor <= 0 {
		validFor = 365 * 24 * time.Hour
	}
	commonName := req.CommonName
	if commonName == "" {
		commonName = "tlsbench"
	}
	notBefore := time.Now().Add(-time.Minute)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"tlsbench"}},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, host := range req.Hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "create certificate")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "marshal private key")
	}

	return KeyPair{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// WriteFiles writes the pair to disk. Existing files are never overwritten.
func (kp KeyPair) WriteFiles(certificateFile, privateKeyFile string) error {
	if err := writeNew(privateKeyFile, kp.PrivateKeyPEM, 0o600); err != nil {
		return errors.Wrap(err, "write private key")
	}
	if err := writeNew(certificateFile, kp.CertificatePEM, 0o644); err != nil {
		_ = os.Remove(privateKeyFile)
		return errors.Wrap(err, "write certificate")
	}
	return nil
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
