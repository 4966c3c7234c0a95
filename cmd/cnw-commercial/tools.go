package main

import (
	"fmt"
	"strings"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial"
	"github.com/spf13/cobra"
)

var serverTypes = []cnwcommercial.ServerType{
	cnwcommercial.ServerLicense,
	cnwcommercial.ServerPlugin,
	cnwcommercial.ServerUpdate,
	cnwcommercial.ServerSaaS,
	cnwcommercial.ServerAnalytics,
}

func parseServerType(s string) (cnwcommercial.ServerType, error) {
	st := cnwcommercial.ServerType(strings.ToLower(s))
	if !st.Valid() {
		return "", fmt.Errorf("unknown server type %q", s)
	}
	return st, nil
}

func parseEdition(s string) (cnwcommercial.ClientType, error) {
	if s == "" {
		return cnwcommercial.EditionFromEnv(), nil
	}
	c := cnwcommercial.ClientType(strings.ToLower(s))
	if !c.Valid() {
		return "", fmt.Errorf("edition must be opensource or commercial, got %q", s)
	}
	return c, nil
}

func newSignCmd() *cobra.Command {
	var (
		serverType string
		target     string
		fp         string
		client     string
		secret     string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a URL carrying a freshly signed client identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseServerType(serverType)
			if err != nil {
				return err
			}
			edition, err := parseEdition(client)
			if err != nil {
				return err
			}
			if fp == "" {
				if fp, err = cnwcommercial.GenerateFingerprint(); err != nil {
					return fmt.Errorf("generate fingerprint: %w", err)
				}
			}
			if !cnwcommercial.ValidFingerprint(fp) {
				return fmt.Errorf("fingerprint must be 16 lowercase hex characters")
			}

			var opts []cnwcommercial.SignerOption
			if secret != "" {
				opts = append(opts, cnwcommercial.WithSignerSecret(secret))
			}
			signed, err := cnwcommercial.NewSigner(edition, fp, opts...).SignURL(target, st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serverType, "type", "t", string(cnwcommercial.ServerPlugin), "server type")
	cmd.Flags().StringVarP(&target, "url", "u", "", "URL to sign")
	cmd.Flags().StringVar(&fp, "fp", "", "installation fingerprint (default: this host)")
	cmd.Flags().StringVar(&client, "client", "", "client edition (default: $CNW_EDITION)")
	cmd.Flags().StringVar(&secret, "secret", "", "override the shared signing secret")
	cmd.MarkFlagRequired("url") //nolint:errcheck
	return cmd
}

func newEncryptEndpointCmd() *cobra.Command {
	var (
		serverType string
		endpoint   string
		secret     string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-endpoint",
		Short: "Encrypt an endpoint URL into a registry ciphertext",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseServerType(serverType)
			if err != nil {
				return err
			}
			ct, err := cnwcommercial.EncryptEndpoint(secret, st, endpoint)
			if err != nil {
				return err
			}

			// Refuse ciphertexts the registry would discard at runtime.
			regOpts := []cnwcommercial.RegistryOption{cnwcommercial.WithCiphertext(st, ct)}
			if secret != "" {
				regOpts = append(regOpts, cnwcommercial.WithEndpointSecret(secret))
			}
			reg := cnwcommercial.NewRegistry(regOpts...)
			if resolved := reg.Resolve(st); !strings.HasPrefix(resolved, endpoint+"?") {
				return fmt.Errorf("endpoint %q fails trust validation: https under %s with an /api/vN path is required",
					endpoint, cnwcommercial.TrustedDomain)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ct)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serverType, "type", "t", "", "server type")
	cmd.Flags().StringVarP(&endpoint, "url", "u", "", "endpoint URL")
	cmd.Flags().StringVar(&secret, "secret", "", "override the endpoint base secret")
	cmd.MarkFlagRequired("type") //nolint:errcheck
	cmd.MarkFlagRequired("url")  //nolint:errcheck
	return cmd
}

func newResolveCmd() *cobra.Command {
	var (
		serverType string
		edition    string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the endpoint each server type resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ed, err := parseEdition(edition)
			if err != nil {
				return err
			}
			types := serverTypes
			if serverType != "" {
				st, err := parseServerType(serverType)
				if err != nil {
					return err
				}
				types = []cnwcommercial.ServerType{st}
			}
			reg := cnwcommercial.NewRegistry(cnwcommercial.WithEdition(ed))
			for _, st := range types {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", st, reg.Resolve(st))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&serverType, "type", "t", "", "server type (default: all)")
	cmd.Flags().StringVar(&edition, "edition", "", "edition (default: $CNW_EDITION)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cnw-commercial %s (%s)\n",
				cnwcommercial.Version, cnwcommercial.EditionFromEnv())
		},
	}
}
