package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/bake"
	"github.com/spf13/cobra"
)

var (
	bakeCredential string
	bakeOut        string
	bakeFormat     string
	bakeOverwrite  bool
)

var bakeCmd = &cobra.Command{
	Use:   "bake [image]",
	Short: "Embed a credential in a PNG or SVG badge image",
	Long: `Embed a credential in a badge image.

--credential is a compact JWS, a file containing a JWS or a JSON credential,
or "-" for stdin. JSON credentials are canonicalized before embedding. The
image format is detected from its content unless --format is given.`,
	Example: `  badgeengine bake badge.png --credential credential.jwt --out baked.png
  badgeengine credential issue ... | badgeengine bake badge.svg --credential - --out baked.svg`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}

		raw, err := readCredentialArg(bakeCredential)
		if err != nil {
			return err
		}
		payload, err := bake.PreparePayload(raw)
		if err != nil {
			return err
		}

		baker, err := bake.Select(bakeFormat, image)
		if err != nil {
			return err
		}

		baked, err := baker.Bake(image, payload, bakeOverwrite)
		if err != nil {
			return err
		}

		out := bakeOut
		if out == "" {
			out = "baked." + string(baker.Format())
		}
		if err := os.WriteFile(out, baked, 0644); err != nil {
			return fmt.Errorf("failed to write baked image: %w", err)
		}
		fmt.Printf("✅ Baked %s badge saved to %s\n", strings.ToUpper(string(baker.Format())), out)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [image]",
	Short: "Print the credential embedded in a badge image",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}

		baker, err := bake.Detect(image)
		if err != nil {
			return err
		}
		payload, found, err := baker.Extract(image)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no credential is baked into %s", args[0])
		}
		fmt.Println(payload)
		return nil
	},
}

// readCredentialArg treats anything that is not a readable file as a literal payload.
func readCredentialArg(arg string) ([]byte, error) {
	if arg == "" {
		return nil, fmt.Errorf("--credential is required")
	}
	if arg == "-" {
		return readInput(arg)
	}
	if _, err := os.Stat(arg); err == nil {
		return readInput(arg)
	}
	return []byte(arg), nil
}

func init() {
	bakeCmd.Flags().StringVar(&bakeCredential, "credential", "", "Credential to embed (JWS, file path, or \"-\" for stdin)")
	bakeCmd.Flags().StringVar(&bakeOut, "out", "", "Output path (default baked.<format>)")
	bakeCmd.Flags().StringVar(&bakeFormat, "format", "", "Image format (png or svg); detected when empty")
	bakeCmd.Flags().BoolVar(&bakeOverwrite, "overwrite", false, "Replace an already baked credential")

	rootCmd.AddCommand(bakeCmd)
	rootCmd.AddCommand(extractCmd)
}
