package main

import (
	"context"

	"github.com/autom8ter/chronicle"
	"github.com/spf13/cobra"
)

func runCmd(open func(ctx context.Context) (*chronicle.Engine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the document and schema watchers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.Close(context.Background())
			return e.Run(ctx)
		},
	}
}
