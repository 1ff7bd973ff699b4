package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/keel/internal/cli"
	"github.com/aretw0/keel/internal/presentation/tui"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <operation> <address>",
	Short: "Submit an operation to a running process",
	Long: `Posts one operation to the management API of a running process and prints the response.

Examples:
  keel submit add /subsystem=datasources --param jndi-name=java:/ExampleDS
  keel submit write-attribute /system-property=region --param name=value --param value=eu-west
  keel submit composite / --file steps.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		pairs, _ := cmd.Flags().GetStringArray("param")
		file, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

		addr, err := domain.ParseAddress(args[1])
		if err != nil {
			return err
		}
		params, err := cli.ParseParams(pairs)
		if err != nil {
			return err
		}
		if file != "" {
			if params, err = readParams(file, params); err != nil {
				return err
			}
		}

		resp, err := cli.NewClient(server).Submit(cmd.Context(), domain.NewOperation(args[0], addr, params))
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		if err := tui.NewRenderer(cmd.OutOrStdout()).Print(tui.Response(resp)); err != nil {
			return err
		}
		if resp.Outcome.Failed() {
			return fmt.Errorf("operation %s", resp.Outcome.Status)
		}
		return nil
	},
}

// readParams merges the JSON object in file under the flag params.
func readParams(file string, params map[string]any) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var fromFile map[string]any
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	for k, v := range params {
		fromFile[k] = v
	}
	return fromFile, nil
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String("server", "http://localhost:9990", "Management API of the target process")
	submitCmd.Flags().StringArray("param", nil, "Operation parameter as key=value (repeatable)")
	submitCmd.Flags().String("file", "", "JSON file with operation parameters")
	submitCmd.Flags().Bool("json", false, "Print the raw JSON response")
}
