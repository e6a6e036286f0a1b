package main

import (
	"context"
	"fmt"
	"os"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ledgerd/services/exporter"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Utility for managing signed resource history bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newBundlesCommand())
	cmd.AddCommand(newKeysCommand())
	return cmd
}

func newBundlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Bundle export and import operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesExportCommand())
	cmd.AddCommand(newBundlesImportCommand())
	return cmd
}

func newBundlesExportCommand() *cobra.Command {
	var (
		apiBaseURL string
		kind       string
		resourceID string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a resource's snapshot history as a signed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			id, err := uuid.Parse(resourceID)
			if err != nil {
				return fmt.Errorf("parse resource id: %w", err)
			}
			signer, err := exporter.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = exporter.Export(ctx, exporter.ExportConfig{
				APIBaseURL: apiBaseURL,
				Kind:       kind,
				ResourceID: id,
				Output:     output,
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the ledgerd API (e.g. https://api.example.com)")
	cmd.Flags().StringVar(&kind, "kind", "", "Resource kind (e.g. plugin, entrypoint)")
	cmd.Flags().StringVar(&resourceID, "resource", "", "Resource id to export")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("api")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesImportCommand() *cobra.Command {
	var (
		bundleFile string
		apiBaseURL string
		group      string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a signed bundle and replay its history into the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := exporter.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = exporter.Import(ctx, exporter.ImportConfig{
				BundlePath: bundleFile,
				APIBaseURL: apiBaseURL,
				Group:      group,
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the ledgerd API")
	cmd.Flags().StringVar(&group, "group", "", "Override the group the resource is imported into")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Signing key operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newKeysGenerateCommand())
	return cmd
}

func newKeysGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new age identity for bundle signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := age.GenerateX25519Identity()
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "AGE_SECRET_KEY=%s\n", identity.String())
			fmt.Fprintf(cmd.OutOrStdout(), "# recipient: %s\n", identity.Recipient())
			return nil
		},
	}
	return cmd
}
