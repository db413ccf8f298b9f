package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session transcript to the configured archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodPost, "/v1/sessions/"+args[0]+"/export", map[string]string{})
			if err != nil {
				return err
			}
			var out struct {
				Location string `json:"location"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			fmt.Println(out.Location)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8372", "Server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("STEWARD_API_KEY"), "API key")
	return cmd
}
