package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/steward-dev/steward/internal/store"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and control sessions on a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8372", "Server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("STEWARD_API_KEY"), "API key")

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsStartCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsStopCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodGet, "/v1/sessions", nil)
			if err != nil {
				return err
			}
			var out struct {
				Sessions []*store.Session `json:"sessions"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			for _, s := range out.Sessions {
				fmt.Printf("%s  %-20s %s\n", s.ID, s.Status, s.WorkingDir)
			}
			return nil
		},
	}
}

func newSessionsStartCmd() *cobra.Command {
	var workdir, mode, system string
	cmd := &cobra.Command{
		Use:   "start <message>",
		Short: "Start a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workdir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workdir = wd
			}
			resp, err := apiCall(http.MethodPost, "/v1/sessions", map[string]string{
				"working_dir":    workdir,
				"execution_mode": mode,
				"system_prompt":  system,
				"message":        args[0],
			})
			if err != nil {
				return err
			}
			var out struct {
				SessionID string `json:"session_id"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			fmt.Println(out.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory (default: current)")
	cmd.Flags().StringVar(&mode, "mode", "auto", "Execution mode: auto, local, or sandbox")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodGet, "/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			var out map[string]any
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newSessionsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodPost, "/v1/sessions/"+args[0]+"/stop", map[string]string{})
			if err != nil {
				return err
			}
			return decodeOrFail(resp, nil)
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiCall(http.MethodDelete, "/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			return decodeOrFail(resp, nil)
		},
	}
}
