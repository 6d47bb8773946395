package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/badgeengine/badgeengine-core/pkg/trust"
	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"
)

var (
	trustDir            string
	trustFromJWKS       string
	trustFromCredential string
	trustIssuer         string
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage pinned issuer keys",
	Long: `Manage the local trust store used to pin issuer signing keys.

VC-JWTs carry their verification key in the header, so a valid signature only
proves the token was not altered. Pinning maps an issuer IRI to the keys it is
known to use; "credential verify --pinned" and "serve --require-pinned"
reject tokens signed by any other key.

Location: ~/.badgeengine/trust/ (or $BADGE_TRUST_PATH)`,
}

var trustAddCmd = &cobra.Command{
	Use:   "add [jwk-file]",
	Short: "Add a public key to the trust store",
	Long: `Add a public key to the trust store, optionally pinning it to an issuer.

Examples:
  # Add from a JWK file and pin it
  badgeengine trust add issuer.jwk --issuer https://badges.example.edu/issuers/org1

  # Add every key of a JWKS
  badgeengine trust add --from-jwks https://badges.example.edu/.well-known/jwks.json --issuer https://badges.example.edu/issuers/org1

  # Trust the key embedded in a credential for the issuer it names
  badgeengine trust add --from-credential credential.jwt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		switch {
		case trustFromCredential != "":
			return addFromCredential(store, trustFromCredential)
		case trustFromJWKS != "":
			return addFromJWKS(commandContext(cmd), store, trustFromJWKS, trustIssuer)
		case len(args) == 1:
			return addFromJWKFile(store, args[0], trustIssuer)
		default:
			return fmt.Errorf("provide a JWK file path, --from-jwks or --from-credential")
		}
	},
}

func addFromJWKFile(store *trust.FileStore, path, issuer string) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse JWK: %w", err)
	}
	return addKey(store, key, issuer)
}

func addFromJWKS(ctx context.Context, store *trust.FileStore, source, issuer string) error {
	var jwks *jose.JSONWebKeySet
	if source == "-" {
		data, err := readInput(source)
		if err != nil {
			return err
		}
		jwks = &jose.JSONWebKeySet{}
		if err := json.Unmarshal(data, jwks); err != nil {
			return fmt.Errorf("failed to parse JWKS: %w", err)
		}
	} else {
		fetched, err := crypto.NewDefaultJWKSFetcher().Fetch(ctx, source)
		if err != nil {
			return err
		}
		jwks = fetched
	}

	if len(jwks.Keys) == 0 {
		return fmt.Errorf("JWKS contains no keys")
	}

	thumbprints, err := store.AddFromJWKS(jwks, issuer)
	if err != nil {
		return fmt.Errorf("failed to add keys: %w", err)
	}

	fmt.Printf("✅ Added %d key(s) from JWKS\n", len(thumbprints))
	for _, tp := range thumbprints {
		fmt.Printf("   - %s\n", tp)
	}
	if issuer != "" {
		fmt.Printf("   Pinned to issuer: %s\n", issuer)
	}
	return nil
}

func addFromCredential(store *trust.FileStore, arg string) error {
	token, err := readToken(arg)
	if err != nil {
		return err
	}
	header, claims, err := badge.DecodeUnverified(token)
	if err != nil {
		return err
	}
	if header.JSONWebKey == nil {
		return fmt.Errorf("credential header carries no jwk")
	}

	issuer := trustIssuer
	if issuer == "" {
		issuer = claims.Iss
	}
	return addKey(store, *header.JSONWebKey, issuer)
}

func addKey(store *trust.FileStore, key jose.JSONWebKey, issuer string) error {
	thumbprint, err := store.Add(key)
	if err != nil {
		return fmt.Errorf("failed to add key: %w", err)
	}
	fmt.Printf("✅ Added key: %s\n", thumbprint)

	if issuer != "" {
		if err := store.Pin(issuer, thumbprint); err != nil {
			return fmt.Errorf("failed to pin key: %w", err)
		}
		fmt.Printf("   Pinned to issuer: %s\n", issuer)
	}
	return nil
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted keys and issuer pins",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		keys, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}

		if len(keys) == 0 {
			fmt.Println("No trusted keys in store.")
			fmt.Println("\nAdd keys with:")
			fmt.Println("  badgeengine trust add issuer.jwk --issuer https://badges.example.edu/issuers/org1")
			return nil
		}

		fmt.Printf("🔑 Trusted Keys (%d):\n\n", len(keys))
		for _, key := range keys {
			tp, err := trust.Thumbprint(&key)
			if err != nil {
				return err
			}
			fmt.Printf("  Thumbprint: %s\n", tp)
			if key.Algorithm != "" {
				fmt.Printf("    Algorithm: %s\n", key.Algorithm)
			}
			fmt.Println()
		}

		issuers, err := store.Issuers()
		if err != nil {
			return fmt.Errorf("failed to list issuers: %w", err)
		}
		if len(issuers) > 0 {
			names := make([]string, 0, len(issuers))
			for name := range issuers {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println("📌 Issuer Pins:")
			for _, name := range names {
				fmt.Printf("  %s\n    %s\n", name, strings.Join(issuers[name], "\n    "))
			}
			fmt.Println()
		}

		fmt.Printf("Trust store location: %s\n", store.Dir())
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [thumbprint]",
	Short: "Remove a key and its pins from the trust store",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		thumbprint := args[0]

		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		if err := store.Remove(thumbprint); err != nil {
			if errors.Is(err, trust.ErrKeyNotFound) {
				return fmt.Errorf("key not found: %s", thumbprint)
			}
			return fmt.Errorf("failed to remove key: %w", err)
		}

		fmt.Printf("✅ Removed key: %s\n", thumbprint)
		return nil
	},
}

var trustPinCmd = &cobra.Command{
	Use:   "pin [issuer] [thumbprint]",
	Short: "Pin a stored key to an issuer IRI",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		if err := store.Pin(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to pin key: %w", err)
		}
		fmt.Printf("📌 Pinned %s to %s\n", args[1], args[0])
		return nil
	},
}

var trustUnpinCmd = &cobra.Command{
	Use:   "unpin [issuer] [thumbprint]",
	Short: "Remove an issuer pin",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		if err := store.Unpin(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to unpin key: %w", err)
		}
		fmt.Printf("✅ Unpinned %s from %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd, trustListCmd, trustRemoveCmd, trustPinCmd, trustUnpinCmd)

	trustCmd.PersistentFlags().StringVar(&trustDir, "dir", "", "Trust store directory (default ~/.badgeengine/trust)")
	trustAddCmd.Flags().StringVar(&trustFromJWKS, "from-jwks", "", "Fetch from JWKS URL or '-' for stdin")
	trustAddCmd.Flags().StringVar(&trustFromCredential, "from-credential", "", "Trust the key embedded in a VC-JWT (token, file, or '-')")
	trustAddCmd.Flags().StringVar(&trustIssuer, "issuer", "", "Issuer IRI to pin the added key(s) to")
}
