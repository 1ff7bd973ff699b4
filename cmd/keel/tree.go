package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/keel/internal/cli"
	"github.com/aretw0/keel/internal/presentation/graph"
	"github.com/aretw0/keel/internal/presentation/tui"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree [address]",
	Short: "Print the committed resource tree of a running process",
	Long:  `Reads the tree (or the subtree at address) and prints it as markdown, JSON or a Mermaid diagram.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		format, _ := cmd.Flags().GetString("format")

		addr := domain.RootAddress
		if len(args) == 1 {
			parsed, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			addr = parsed
		}

		res, err := cli.NewClient(server).Tree(cmd.Context(), addr, true)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch format {
		case "markdown":
			return tui.NewRenderer(out).Print(tui.Resource(res))
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		case "mermaid":
			_, err := fmt.Fprint(out, graph.GenerateMermaid(res, nil))
			return err
		default:
			return fmt.Errorf("unknown format %q, supported: markdown, json, mermaid", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().String("server", "http://localhost:9990", "Management API of the target process")
	treeCmd.Flags().String("format", "markdown", "Output format: markdown, json or mermaid")
}
