package main

import (
	"log"

	"github.com/absmach/fedcoord/cli"
	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	var (
		coordinatorURL  = cli.DefCoordinatorURL
		tlsVerification = cli.DefTLSVerification
	)

	rootCmd := &cobra.Command{
		Use:   "fedcoord-cli",
		Short: "Federated coordinator CLI",
		Long:  `fedcoord-cli is a command line interface for the federated training coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}

	rootCmd.PersistentFlags().StringVarP(
		&coordinatorURL,
		"coordinator-url",
		"u",
		coordinatorURL,
		"Coordinator URL",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&tlsVerification,
		"tls-verification",
		"v",
		tlsVerification,
		"Verify TLS certificates",
	)

	rootCmd.AddCommand(cli.NewClientsCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
