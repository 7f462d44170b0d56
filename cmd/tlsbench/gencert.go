package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/tlsbench/internal/tlsconf"
)

type genCertOptions struct {
	certificateFile string
	privateKeyFile  string
	algorithm       string
	hosts           []string
	commonName      string
	validFor        time.Duration
}

func newGenCertCommand(stdout io.Writer) *cobra.Command {
	opts := genCertOptions{}
	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Generate a private key and a self-signed certificate for the server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return genCert(stdout, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.certificateFile, "certificate-file", "cert.pem", "Output path of the PEM certificate")
	flags.StringVar(&opts.privateKeyFile, "private-key-file", "key.pem", "Output path of the PEM private key")
	flags.StringVar(&opts.algorithm, "algorithm", string(tlsconf.AlgorithmECDSAP256), "Key algorithm: ecdsa-p256, ecdsa-p384 or ed25519")
	flags.StringSliceVar(&opts.hosts, "hosts", []string{"localhost", "127.0.0.1"}, "DNS names and IP addresses the certificate is valid for")
	flags.StringVar(&opts.commonName, "common-name", "tlsbench", "Subject common name")
	flags.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "Certificate lifetime")
	return cmd
}

func genCert(w io.Writer, opts genCertOptions) error {
	kp, err := tlsconf.GenerateSelfSigned(tlsconf.CertificateRequest{
		Algorithm:  tlsconf.Algorithm(opts.algorithm),
		CommonName: opts.commonName,
		Hosts:      opts.hosts,
		ValidFor:   opts.validFor,
	})
	if err != nil {
		return err
	}
	if err := kp.WriteFiles(opts.certificateFile, opts.privateKeyFile); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote certificate to %s and private key to %s\n", opts.certificateFile, opts.privateKeyFile)
	return nil
}
