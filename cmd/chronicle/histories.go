package main

import (
	"context"
	"encoding/json"

	"github.com/autom8ter/chronicle"
	"github.com/spf13/cobra"
)

func historiesCmd(open func(ctx context.Context) (*chronicle.Engine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "histories BUCKET DOCUMENT",
		Short: "list the histories of a document newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.Close(context.Background())
			summaries, err := e.GetHistories(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, summaries)
		},
	}
}

func revertCmd(open func(ctx context.Context) (*chronicle.Engine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "revert BUCKET DOCUMENT HISTORY",
		Short: "print the document as it was before the mutation recorded by the history",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.Close(context.Background())
			document, err := e.Revert(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd, document)
		},
	}
}

func printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
