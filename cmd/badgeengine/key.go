package main

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/badgeengine/badgeengine-core/pkg/trust"
	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"
)

var (
	keyOutPrivate string
	keyOutPublic  string
	keyBits       int
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the issuer signing key",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new RSA issuer key",
	Long: `Generate a new RSA key pair for signing VC-JWTs.

Outputs:
  - Private key as PKCS#8 PEM (mode 0600), loaded by "serve --key-path"
  - Public key in JWK format, with its RFC 7638 thumbprint as kid,
    suitable for "trust add"`,
	Example: `  # Generate keys with default names
  badgeengine key gen

  # Generate a 4096 bit key
  badgeengine key gen --bits 4096 --out-priv issuer.pem --out-pub issuer.jwk`,
	RunE: func(_ *cobra.Command, _ []string) error {
		key, err := crypto.GenerateKey(keyBits)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		if err := crypto.WritePrivateKeyPEM(keyOutPrivate, key); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		fmt.Printf("✅ Private Key saved to %s\n", keyOutPrivate)

		pubJwk, err := publicJWK(&key.PublicKey)
		if err != nil {
			return err
		}
		pubBytes, err := json.MarshalIndent(pubJwk, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(keyOutPublic, pubBytes, 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
		fmt.Printf("✅ Public Key saved to %s\n", keyOutPublic)
		fmt.Printf("🔑 Thumbprint: %s\n", pubJwk.KeyID)

		return nil
	},
}

var keyJWKCmd = &cobra.Command{
	Use:   "jwk [private-key.pem]",
	Short: "Print the public JWK embedded in issued VC-JWTs",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		key, err := crypto.LoadPrivateKey(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(crypto.PublicJWK(&key.PublicKey), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// publicJWK returns pub as a signing JWK keyed by its thumbprint.
func publicJWK(pub *rsa.PublicKey) (jose.JSONWebKey, error) {
	jwk := jose.JSONWebKey{
		Key:       pub,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
	kid, err := trust.Thumbprint(&jwk)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	jwk.KeyID = kid
	return jwk, nil
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)
	keyCmd.AddCommand(keyJWKCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-priv", "private.pem", "Output path for private key (PEM)")
	keyGenCmd.Flags().StringVar(&keyOutPublic, "out-pub", "public.jwk", "Output path for public key (JWK format)")
	keyGenCmd.Flags().IntVar(&keyBits, "bits", crypto.DefaultKeyBits, "RSA modulus size")
}
