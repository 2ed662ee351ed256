package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devlabo/sandboxd"
	"github.com/devlabo/sandboxd/internal/workspace"
)

var version = "dev"

const defaultAPIURL = "http://127.0.0.1:8000"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	APIUrl     string
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags

	root := &cobra.Command{
		Use:           "sandboxd",
		Short:         "Per-project dev sandbox: process supervisor and proxy gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "sandboxd.toml", "path to TOML config")
	root.PersistentFlags().StringVar(&gf.LogLevel, "log-level", "info", "daemon log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api-url", defaultAPIURL, "gateway base URL for client commands")

	root.AddCommand(newServeCmd(&gf))
	root.AddCommand(newStatusCmd(&gf))
	root.AddCommand(newRestartCmd(&gf))
	root.AddCommand(newHistoryCmd(&gf))
	root.AddCommand(newFilesCmd(&gf))
	root.AddCommand(newVersionCmd())
	return root
}

func newRestartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a supervised process through a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 90 * time.Second}
			url := fmt.Sprintf("%s/processes/%s/restart", gf.APIUrl, args[0])
			resp, err := client.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s - start it with 'sandboxd serve'", gf.APIUrl)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("restart failed: %s", strings.TrimSpace(string(body)))
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newHistoryCmd(gf *GlobalFlags) *cobra.Command {
	var name string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent process lifecycle events from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			url := fmt.Sprintf("%s/history?name=%s&limit=%d", gf.APIUrl, name, limit)
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s - start it with 'sandboxd serve'", gf.APIUrl)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "filter by process name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")
	return cmd
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Provision the workspace, start dev servers, and serve the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sandboxd.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			lg := sandboxd.NewLogger(os.Stderr, gf.LogLevel, true)
			ctrl, err := sandboxd.New(cfg, lg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ctrl.Run(ctx)
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print gateway and process status from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(gf.APIUrl + "/health")
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s - start it with 'sandboxd serve'", gf.APIUrl)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newFilesCmd(gf *GlobalFlags) *cobra.Command {
	files := &cobra.Command{
		Use:   "files",
		Short: "Work with scoped workspace files through a running daemon",
	}

	accessor := func() workspace.Accessor {
		return workspace.NewRPC(gf.APIUrl, 30*time.Second)
	}

	files.AddCommand(&cobra.Command{
		Use:   "list <scope>",
		Short: "List files in a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := accessor().List(args[0])
			if err != nil {
				return err
			}
			for _, n := range names {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})
	files.AddCommand(&cobra.Command{
		Use:   "get <scope> <path>",
		Short: "Print a file's content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := accessor().Read(args[0], args[1])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	files.AddCommand(&cobra.Command{
		Use:   "put <scope> <path> [localfile]",
		Short: "Write a file from a local file or stdin",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 3 {
				data, err = os.ReadFile(args[2]) // #nosec G304 -- operator-supplied path
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			return accessor().Write(args[0], args[1], data)
		},
	})
	files.AddCommand(&cobra.Command{
		Use:   "rm <scope> <path>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return accessor().Delete(args[0], args[1])
		},
	})
	files.AddCommand(&cobra.Command{
		Use:   "exec <scope> <command>",
		Short: "Run a shell command inside a scope directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := accessor().Exec(cmd.Context(), args[0], args[1])
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	})
	return files
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sandboxd version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "sandboxd", version)
		},
	}
}

func printJSON(w io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, werr := w.Write(raw)
		return werr
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
