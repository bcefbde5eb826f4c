package cli

import (
	"strconv"

	"github.com/absmach/fedcoord/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	DefCoordinatorURL  = "http://localhost:7070"
	DefTLSVerification = false
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients [register|list]",
		Short: "Training clients",
		Long:  `Register devices and list the clients known to the coordinator.`,
	}

	registerCmd := &cobra.Command{
		Use:   "register <device_id>",
		Short: "Register device",
		Long: `Register a device and print its client id and training arguments.

Examples:
  fedcoord-cli clients register raspberry-7`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			reg, err := fsdk.Register(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, reg)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list [offset] [limit]",
		Short: "List clients",
		Long:  `List registered clients.`,
		Run: func(cmd *cobra.Command, args []string) {
			offset, limit, err := pageArgs(args)
			if err != nil {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListClients(offset, limit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	cmd.AddCommand(registerCmd, listCmd)

	return cmd
}

func pageArgs(args []string) (uint64, uint64, error) {
	offset, limit := defOffset, defLimit
	var err error
	switch len(args) {
	case 0:
	case 2:
		if limit, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			return 0, 0, err
		}

		fallthrough
	case 1:
		if offset, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, strconv.ErrSyntax
	}

	return offset, limit, nil
}
