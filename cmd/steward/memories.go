package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/steward-dev/steward/internal/store"
)

func newMemoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "Inspect and manage remembered facts",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8372", "Server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("STEWARD_API_KEY"), "API key")

	cmd.AddCommand(newMemoriesListCmd())
	cmd.AddCommand(newMemoriesPurgeCmd())
	return cmd
}

func newMemoriesListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/memories"
			if all {
				path += "?all=true"
			}
			resp, err := apiCall(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			var out struct {
				Memories []*store.MemoryRecord `json:"memories"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			for _, m := range out.Memories {
				flag := " "
				if !m.Active {
					flag = "-"
				}
				fmt.Printf("%s [%-10s] %.2f  %s\n", flag, m.Category, m.Confidence, m.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include forgotten records")
	return cmd
}

func newMemoriesPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <memory-id>",
		Short: "Physically remove a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodDelete, "/v1/memories/"+args[0], nil)
			if err != nil {
				return err
			}
			return decodeOrFail(resp, nil)
		},
	}
}
