package cli

import (
	"github.com/spf13/cobra"
)

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [start|status|list|model]",
		Short: "Training rounds",
		Long:  `Start training and inspect rounds and the global model.`,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start rounds",
		Long:  `Send the initial model to the registered clients.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			status, err := fsdk.StartRounds()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, status)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Round status",
		Long:  `View the state of the current round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			status, err := fsdk.RoundStatus()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, status)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list [offset] [limit]",
		Short: "List rounds",
		Long:  `List finished and aborted round attempts.`,
		Run: func(cmd *cobra.Command, args []string) {
			offset, limit, err := pageArgs(args)
			if err != nil {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListRounds(offset, limit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "View global model",
		Long:  `View the current global model.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			model, err := fsdk.GlobalModel()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, model)
		},
	}

	cmd.AddCommand(startCmd, statusCmd, listCmd, modelCmd)

	return cmd
}
