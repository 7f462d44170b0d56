// Package tlsconf builds the server-side TLS context and generates the
// self-signed key pairs used by benchmark deployments.
package tlsconf

import (
	"crypto/tls"
	"strings"

	"github.com/pkg/errors"
)

// Options tune the negotiated protocol.
type Options struct {
	// MinVersion defaults to TLS 1.3.
	MinVersion uint16
	// Curves restricts the key exchange groups, in preference order. Empty keeps
	// the runtime defaults, which include the hybrid X25519MLKEM768 group.
	Curves []tls.CurveID
}

var curveNames = map[string]tls.CurveID{
	"x25519mlkem768": tls.X25519MLKEM768,
	"x25519":         tls.X25519,
	"p256":           tls.CurveP256,
	"p-256":          tls.CurveP256,
	"secp256r1":      tls.CurveP256,
	"p384":           tls.CurveP384,
	"p-384":          tls.CurveP384,
	"secp384r1":      tls.CurveP384,
	"p521":           tls.CurveP521,
	"p-521":          tls.CurveP521,
	"secp521r1":      tls.CurveP521,
}

// ParseCurves maps group names such as "X25519MLKEM768" or "P-256" to curve IDs.
func ParseCurves(names []string) ([]tls.CurveID, error) {
	curves := make([]tls.CurveID, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		id, ok := curveNames[key]
		if !ok {
			return nil, errors.Errorf("unknown key exchange group %q", name)
		}
		curves = append(curves, id)
	}
	return curves, nil
}

// ParseVersion accepts "1.2" or "1.3".
func ParseVersion(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "tls") {
	case "", "1.3", "13":
		return tls.VersionTLS13, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	default:
		return 0, errors.Errorf("unsupported TLS version %q", v)
	}
}

// New returns a server config presenting cert.
func New(cert tls.Certificate, opts Options) *tls.Config {
	minVersion := opts.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS13
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		// Every connection must pay for a full handshake.
		SessionTicketsDisabled: true,
	}
	if len(opts.Curves) > 0 {
		cfg.CurvePreferences = append([]tls.CurveID(nil), opts.Curves...)
	}
	return cfg
}

// Load reads a PEM certificate chain and its PEM private key.
func Load(certificateFile, privateKeyFile string, opts Options) (*tls.Config, error) {
	if certificateFile == "" || privateKeyFile == "" {
		return nil, errors.New("certificate file and private key file are required")
	}
	cert, err := tls.LoadX509KeyPair(certificateFile, privateKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load key pair")
	}
	return New(cert, opts), nil
}
