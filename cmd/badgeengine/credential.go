package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/badgeengine/badgeengine-core/pkg/trust"
	"github.com/spf13/cobra"
)

var (
	credRequestFile string
	credReq         badge.IssueRequest
	credRecipient   string

	credKeyPath  string
	credDomain   string
	credValidity time.Duration
	credServer   string
	credToken    string
	credJSON     bool

	credProofMethod string
	credCanonical   bool

	credPinned   bool
	credTrustDir string
	credSkipTime bool
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Build, issue and verify Open Badges credentials",
}

var credentialBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Print the unsigned credential document for a request",
	Long: `Build the OpenBadgeCredential a request would produce, without signing it.

--proof-method attaches an eddsa-rdfc-2022 DataIntegrityProof configuration
(without a proof value) for use with an external Data Integrity signer.
--canonical prints the document on one line with sorted keys, the form
"bake" embeds.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		req, err := loadIssueRequest()
		if err != nil {
			return err
		}
		builder, err := badge.NewBuilder(badge.BuilderConfig{Domain: credDomain, Validity: credValidity})
		if err != nil {
			return err
		}
		cred, err := builder.Build(req)
		if err != nil {
			return err
		}
		if credProofMethod != "" {
			cred.Proof = []badge.Proof{badge.NewDataIntegrityProofConfig(time.Now(), credProofMethod)}
		}
		if credCanonical {
			out, err := crypto.CanonicalizeValue(cred)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		return printJSON(cred)
	},
}

var credentialIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed VC-JWT",
	Long: `Issue a signed VC-JWT.

Without --server the credential is built and signed locally with --key and
printed; it is not stored. With --server the request is sent to a running
badge engine which signs and stores it.`,
	Example: `  # Sign locally
  badgeengine credential issue --key private.pem --domain https://badges.example.edu \
    --org-id org1 --org-name "Example University" \
    --achievement-id ach1 --achievement-name "Intro to Go" --achievement-type Badge \
    --narrative "Completed every exercise"

  # Issue through a server
  badgeengine credential issue --server https://badges.example.edu --token $TOKEN --request req.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := loadIssueRequest()
		if err != nil {
			return err
		}

		if credServer != "" {
			return issueRemote(commandContext(cmd), req)
		}
		return issueLocal(req)
	},
}

var credentialFetchCmd = &cobra.Command{
	Use:   "fetch [uuid]",
	Short: "Retrieve a stored VC-JWT from a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := badge.NewClient(credServer, credToken).Fetch(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var credentialVerifyCmd = &cobra.Command{
	Use:   "verify [token-or-file]",
	Short: "Verify a VC-JWT",
	Long: `Verify a VC-JWT against the public key embedded in its header.

The argument is a compact JWS, a file containing one, or "-" for stdin.
With --pinned the key must also be pinned for the issuer in the trust store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(args[0])
		if err != nil {
			return err
		}

		opts := badge.VerifyOptions{SkipTimeChecks: credSkipTime}
		if credPinned {
			pins, err := trust.NewFileStore(credTrustDir)
			if err != nil {
				return fmt.Errorf("failed to open trust store: %w", err)
			}
			opts.Pinner = pins
		}

		verified, err := badge.NewVerifier(opts).Verify(commandContext(cmd), token)
		if err != nil {
			fmt.Printf("❌ Credential is invalid: %v\n", err)
			return err
		}

		if credJSON {
			return printJSON(verified.Credential)
		}

		cred := verified.Credential
		fmt.Println("✅ Signature valid")
		fmt.Printf("   Credential:  %s\n", cred.ID)
		fmt.Printf("   Issuer:      %s\n", cred.Issuer.ID())
		if a := cred.CredentialSubject.Achievement; a != nil {
			fmt.Printf("   Achievement: %s (%s)\n", a.Name, a.AchievementType)
		}
		if cred.CredentialSubject.ID != "" {
			fmt.Printf("   Recipient:   %s\n", cred.CredentialSubject.ID)
		}
		fmt.Printf("   Valid:       %s to %s\n", cred.ValidFrom, orDash(cred.ValidUntil))
		if verified.Pinned {
			fmt.Println("   🔒 Issuer key is pinned")
		}
		return nil
	},
}

func issueLocal(req badge.IssueRequest) error {
	builder, err := badge.NewBuilder(badge.BuilderConfig{Domain: credDomain, Validity: credValidity})
	if err != nil {
		return err
	}
	cred, err := builder.Build(req)
	if err != nil {
		return err
	}
	key, err := crypto.NewKeyManager(credKeyPath).PrivateKey()
	if err != nil {
		return err
	}
	token, err := badge.SignCredential(cred, key)
	if err != nil {
		return err
	}

	if credJSON {
		return printJSON(&badge.IssueResponse{
			Message:   "Credential signed",
			BadgeJWT:  token,
			BadgeUUID: badge.CredentialUUID(cred.ID),
		})
	}
	fmt.Println(token)
	return nil
}

func issueRemote(ctx context.Context, req badge.IssueRequest) error {
	resp, err := badge.NewClient(credServer, credToken).Issue(ctx, req)
	if err != nil {
		var clientErr *badge.ClientError
		if errors.As(err, &clientErr) && clientErr.IsAuthError() {
			return fmt.Errorf("server rejected the request (check --token): %w", err)
		}
		return err
	}

	if credJSON {
		return printJSON(resp)
	}
	fmt.Printf("✅ %s\n", resp.Message)
	fmt.Printf("   UUID: %s\n", resp.BadgeUUID)
	fmt.Printf("   URL:  %s\n", resp.CredentialURL)
	return nil
}

// loadIssueRequest reads --request when set, otherwise uses the field flags.
func loadIssueRequest() (badge.IssueRequest, error) {
	if credRequestFile == "" {
		req := credReq
		if credRecipient != "" {
			recipient := credRecipient
			req.RecipientID = &recipient
		}
		return req, nil
	}

	data, err := readInput(credRequestFile)
	if err != nil {
		return badge.IssueRequest{}, err
	}
	var req badge.IssueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return badge.IssueRequest{}, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// readToken accepts a literal compact JWS, a path, or "-".
func readToken(arg string) (string, error) {
	if arg != "-" && strings.Count(arg, ".") == 2 {
		if _, err := os.Stat(arg); err != nil {
			return arg, nil
		}
	}
	data, err := readInput(arg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialBuildCmd, credentialIssueCmd, credentialFetchCmd, credentialVerifyCmd)

	for _, c := range []*cobra.Command{credentialBuildCmd, credentialIssueCmd} {
		f := c.Flags()
		f.StringVar(&credRequestFile, "request", "", "Issuance request JSON file (\"-\" for stdin); overrides the field flags")
		f.StringVar(&credReq.OrganizationID, "org-id", "", "Issuing organization id")
		f.StringVar(&credReq.OrganizationName, "org-name", "", "Issuing organization name")
		f.StringVar(&credReq.AchievementID, "achievement-id", "", "Achievement id")
		f.StringVar(&credReq.AchievementName, "achievement-name", "", "Achievement name")
		f.StringVar(&credReq.AchievementType, "achievement-type", "Badge", "Achievement type")
		f.StringVar(&credReq.Description, "description", "", "Achievement description")
		f.StringVar(&credReq.Narrative, "narrative", "", "Criteria narrative")
		f.StringVar(&credRecipient, "recipient", "", "Recipient id (optional)")
		f.StringVar(&credDomain, "domain", envString("BADGE_DOMAIN", badge.DefaultServerURL), "Base IRI for generated ids")
		f.DurationVar(&credValidity, "validity", envDuration("BADGE_CREDENTIAL_VALIDITY", badge.DefaultValidity), "Credential validity period")
		f.BoolVar(&credJSON, "json", false, "Output JSON")
	}
	credentialBuildCmd.Flags().BoolVar(&credCanonical, "canonical", false, "Print canonical single-line JSON")
	credentialBuildCmd.Flags().StringVar(&credProofMethod, "proof-method", "", "Attach a DataIntegrityProof configuration for this verification method")

	credentialIssueCmd.Flags().StringVar(&credKeyPath, "key", envString("BADGE_PRIVATE_KEY_PATH", "private.pem"), "Issuer RSA private key (PEM) for local signing")
	for _, c := range []*cobra.Command{credentialIssueCmd, credentialFetchCmd} {
		c.Flags().StringVar(&credServer, "server", envString("BADGE_SERVER_URL", ""), "Badge engine URL")
		c.Flags().StringVar(&credToken, "token", envString("BADGE_API_TOKEN", ""), "Bearer token for the server")
	}

	credentialVerifyCmd.Flags().BoolVar(&credPinned, "pinned", false, "Require the signing key to be pinned for the issuer")
	credentialVerifyCmd.Flags().StringVar(&credTrustDir, "trust-dir", "", "Trust store directory (default ~/.badgeengine/trust)")
	credentialVerifyCmd.Flags().BoolVar(&credSkipTime, "skip-time-checks", false, "Accept expired or not yet valid credentials")
	credentialVerifyCmd.Flags().BoolVar(&credJSON, "json", false, "Output the verified credential as JSON")
}
