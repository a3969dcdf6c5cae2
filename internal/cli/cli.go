package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/apexai/nexus/internal/config"
	internal_http "github.com/apexai/nexus/internal/http"
	"github.com/apexai/nexus/internal/log"
	"github.com/apexai/nexus/internal/metrics"
	internal_storage "github.com/apexai/nexus/internal/storage"
	"github.com/apexai/nexus/pkg/models"
	"github.com/apexai/nexus/pkg/proxy"
	"github.com/apexai/nexus/pkg/service"
	"github.com/apexai/nexus/pkg/storage"
	"github.com/apexai/nexus/pkg/template"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// initStore is replaced in tests.
var initStore = func(dbConnStr string) (storage.Store, error) {
	return internal_storage.InitStore(dbConnStr)
}

// SetupCLI registers every nexus subcommand on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to DATABASE_URL or DB_* env vars; in-memory when unset)")
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(serveCmd(), fieldsCmd(), credentialCmd(), modelCmd(), taskCmd())
}

// loadConfig reads the environment and lets --db override the database URL.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		log.SetLevel(cfg.LogLevel)
	}
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, errors.Wrap(err, "error retrieving db flag")
	}
	if dbConnStr != "" {
		cfg.DatabaseURL = dbConnStr
	}
	return cfg, nil
}

// runtime is everything a command needs to talk to the catalog and the engine.
type runtime struct {
	cfg     *config.Config
	store   storage.Store
	catalog *service.CatalogService
	engine  *service.TaskEngine
}

func newRuntime(ctx context.Context, cmd *cobra.Command, opts ...service.EngineOption) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log.GetLogger().Debugf("Opening store (database configured: %t)", cfg.DatabaseURL != "")
	store, err := initStore(cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	px := proxy.NewClient(proxy.WithTimeout(cfg.ProxyTimeout))
	engineOpts := append([]service.EngineOption{
		service.WithPollInterval(cfg.PollInterval),
		service.WithRetryInterval(cfg.RetryInterval),
		service.WithBatchDelay(cfg.BatchDelay),
	}, opts...)
	return &runtime{
		cfg:     cfg,
		store:   store,
		catalog: service.NewCatalogService(store, log.GetLogger()),
		engine:  service.NewTaskEngine(ctx, store, px, log.GetLogger(), engineOpts...),
	}, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Nexus HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Port = port
			}
			store, err := initStore(cfg.DatabaseURL)
			if err != nil {
				return errors.Wrap(err, "failed to initialize store")
			}
			defer store.Close()

			m := metrics.NewMetrics()
			hub := internal_http.NewHub()
			go hub.Run(ctx)

			px := proxy.NewClient(proxy.WithTimeout(cfg.ProxyTimeout), proxy.WithObserver(m.ObserveProxy))
			engine := service.NewTaskEngine(ctx, store, px, log.GetLogger(),
				service.WithPollInterval(cfg.PollInterval),
				service.WithRetryInterval(cfg.RetryInterval),
				service.WithBatchDelay(cfg.BatchDelay),
				service.WithNotifier(hub),
				service.WithNotifier(m),
			)
			catalog := service.NewCatalogService(store, log.GetLogger())
			server := internal_http.NewServer(engine, catalog, px,
				internal_http.WithHub(hub),
				internal_http.WithMetrics(m.Handler()),
			)
			return internal_http.StartServer(ctx, cfg.Port, server.Routes())
		},
	}
	cmd.Flags().String("port", "", "Port to listen on (defaults to PORT or 8080)")
	return cmd
}

func fieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <template-file|->",
		Short: "Print the input fields declared by a body template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), template.Parse(string(tmpl)))
		},
	}
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Short: "Manage API credentials"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create or replace a credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			c := models.Credential{}
			c.ID, _ = cmd.Flags().GetString("id")
			c.Name, _ = cmd.Flags().GetString("name")
			c.BaseURL, _ = cmd.Flags().GetString("base-url")
			c.Token, _ = cmd.Flags().GetString("token")
			saved, err := rt.catalog.SaveCredential(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved credential '%s' with ID %s\n", saved.Name, saved.ID)
			return nil
		},
	}
	add.Flags().String("id", "", "Credential ID (generated when empty)")
	add.Flags().String("name", "", "Display name")
	add.Flags().String("base-url", "", "API base URL")
	add.Flags().String("token", "", "API token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			creds, err := rt.catalog.ListCredentials()
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No credentials found.\n")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBASE URL\tTOKEN")
			for _, c := range creds {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.BaseURL, maskToken(c.Token))
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			if err := rt.catalog.DeleteCredential(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted credential %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "model", Short: "Manage model definitions"}

	add := &cobra.Command{
		Use:   "add <model-json-file|->",
		Short: "Create or replace a model from its JSON definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var m models.Model
			if err := json.Unmarshal(raw, &m); err != nil {
				return errors.Wrap(err, "invalid model definition")
			}
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			saved, err := rt.catalog.SaveModel(m)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved model '%s' with ID %s\n", saved.Name, saved.ID)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List models",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			ms, err := rt.catalog.ListModels()
			if err != nil {
				return err
			}
			if len(ms) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No models found.\n")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODE\tCREDENTIAL")
			for _, m := range ms {
				mode := "async"
				if m.IsSync() {
					mode = "sync"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, mode, m.CredentialID)
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			if err := rt.catalog.DeleteModel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted model %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Submit and inspect tasks"}

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task for a model",
		Long: "Submit a task for a model. Inputs are given as key=value; values that parse as JSON\n" +
			"(numbers, booleans, arrays) are sent as such, anything else as a string.\n" +
			"Async models are only polled while this process runs, so --wait is on by default.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			modelID, _ := cmd.Flags().GetString("model")
			pairs, _ := cmd.Flags().GetStringArray("input")
			wait, _ := cmd.Flags().GetBool("wait")
			inputs, err := parseInputs(pairs)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			fields, err := rt.catalog.ModelFields(modelID)
			if errors.Is(err, storage.ErrNotFound) {
				return errors.Wrapf(service.ErrModelNotFound, "model '%s'", modelID)
			}
			if err != nil {
				return err
			}
			id, err := rt.engine.SubmitModel(ctx, modelID, template.ApplyDefaults(fields, inputs))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted task %s\n", id)
			if !wait {
				return nil
			}
			task, err := rt.engine.Tasks().WaitForTerminal(ctx, id, 200*time.Millisecond)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			if task.Status == models.FailedTaskStatus {
				return errors.Errorf("task %s failed", id)
			}
			return nil
		},
	}
	submit.Flags().String("model", "", "Model ID")
	submit.Flags().StringArray("input", nil, "Input value as key=value (repeatable)")
	submit.Flags().Bool("wait", true, "Wait for the task to finish")
	_ = submit.MarkFlagRequired("model")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			tasks, err := rt.engine.Tasks().ListTasks()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No tasks found.\n")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODEL\tSTATUS\tSTARTED\tSUMMARY")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.ModelName, t.Status, t.StartTime.Format(time.RFC3339), oneLine(t.Summary, 40))
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			task, err := rt.engine.Tasks().GetTask(args[0])
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task)
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Stop a polling task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			if _, err := rt.engine.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped task %s\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			if err := rt.engine.Tasks().DeleteTask(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			if err := rt.engine.Tasks().ClearTasks(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared all tasks\n")
			return nil
		},
	}

	cmd.AddCommand(submit, list, show, cancel, del, clearCmd)
	return cmd
}

// parseInputs turns key=value pairs into an inputs map.
func parseInputs(pairs []string) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid input %q, expected key=value", p)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		if _, isObject := v.(map[string]interface{}); isObject {
			v = raw
		}
		inputs[key] = v
	}
	return inputs, nil
}

func readSource(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return b, nil
}

func printTask(w io.Writer, t models.Task) {
	fmt.Fprintf(w, "Task %s\n", t.ID)
	fmt.Fprintf(w, "  Model:   %s (%s)\n", t.ModelName, t.ModelID)
	fmt.Fprintf(w, "  Status:  %s\n", t.Status)
	fmt.Fprintf(w, "  Started: %s\n", t.StartTime.Format(time.RFC3339))
	if t.EndTime != nil {
		fmt.Fprintf(w, "  Ended:   %s\n", t.EndTime.Format(time.RFC3339))
	}
	if t.Result != "" {
		fmt.Fprintf(w, "  Result:  %s\n", t.Result)
	}
	fmt.Fprintf(w, "  Log:\n")
	for i := len(t.Logs) - 1; i >= 0; i-- {
		entry := t.Logs[i]
		if entry.Type == models.DebugLog {
			continue
		}
		fmt.Fprintf(w, "    %s [%s] %s\n", entry.Time.Format("15:04:05"), entry.Type, entry.Msg)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}
