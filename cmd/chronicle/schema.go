package main

import (
	"fmt"
	"os"

	"github.com/autom8ter/chronicle/schema"
	"github.com/autom8ter/chronicle/util"
	"github.com/spf13/cobra"
)

func readSchema(path string) (schema.Schema, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.New(bits)
}

func normalizeCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "normalize FILE",
		Short: "print the schema with custom types rewritten to primitive json schema types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readSchema(args[0])
			if err != nil {
				return err
			}
			normalized := schema.NormalizeTypes(s)
			if err := normalized.Compile(); err != nil {
				return err
			}
			if !asYAML {
				return printJSON(cmd, normalized)
			}
			bits, err := util.JSONToYAML(normalized.Bytes())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(bits)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print yaml instead of json")
	return cmd
}

func diffSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff-schema OLD NEW",
		Short: "print the changes between two schemas and the document paths they invalidate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			previous, err := readSchema(args[0])
			if err != nil {
				return err
			}
			current, err := readSchema(args[1])
			if err != nil {
				return err
			}
			previous, current = schema.NormalizeTypes(previous), schema.NormalizeTypes(current)
			for _, s := range []schema.Schema{previous, current} {
				if err := s.Compile(); err != nil {
					return err
				}
			}
			changes := schema.Diff(previous, current)
			out := cmd.OutOrStdout()
			for _, c := range changes {
				marker := " "
				if c.Invalidates() {
					marker = "!"
				}
				fmt.Fprintf(out, "%s %s\n", marker, c.String())
			}
			for _, p := range schema.InvalidatedPaths(changes) {
				fmt.Fprintf(out, "invalidated: %s\n", p.String())
			}
			return nil
		},
	}
}
