// ABOUTME: The tasks command group manages proactive tasks through the management API
// ABOUTME: list, templates, create, run, toggle and delete

package main

import (
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/scheduler"
)

func (c *cli) tasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage proactive tasks",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tasks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := c.newClient()
				if err != nil {
					return err
				}
				var tasks []scheduler.Task
				if err := client.do(cmd.Context(), http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
					return err
				}
				printTasks(cmd.OutOrStdout(), tasks)
				return nil
			},
		},
		&cobra.Command{
			Use:   "templates",
			Short: "List task templates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := c.newClient()
				if err != nil {
					return err
				}
				var templates []scheduler.Definition
				if err := client.do(cmd.Context(), http.MethodGet, "/api/templates", nil, &templates); err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "  NAME\tCRON\tAGENT\tDESCRIPTION")
				for _, t := range templates {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", t.Name, t.CronExpression, t.Agent, t.Description)
				}
				return w.Flush()
			},
		},
		c.createTaskCommand(),
		&cobra.Command{
			Use:   "run <id>",
			Short: "Run a task now and print the result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.newClient()
				if err != nil {
					return err
				}
				var result scheduler.Result
				if err := client.do(cmd.Context(), http.MethodPost, "/api/tasks/"+args[0]+"/run", nil, &result); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "status: %s\n", result.Status)
				if len(result.Tools) > 0 {
					fmt.Fprintf(out, "tools:  %v\n", result.Tools)
				}
				if result.Error != "" {
					color.New(color.FgRed).Fprintf(out, "error:  %s\n", result.Error)
				}
				if result.Output != "" {
					fmt.Fprintf(out, "\n%s\n", result.Output)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "toggle <id> <on|off>",
			Short: "Enable or disable a task",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var enabled bool
				switch args[1] {
				case "on", "true", "enable":
					enabled = true
				case "off", "false", "disable":
				default:
					return fmt.Errorf("expected on or off, got %q", args[1])
				}
				client, err := c.newClient()
				if err != nil {
					return err
				}
				var task scheduler.Task
				if err := client.do(cmd.Context(), http.MethodPost, "/api/tasks/"+args[0]+"/toggle", map[string]bool{"enabled": enabled}, &task); err != nil {
					return err
				}
				printTasks(cmd.OutOrStdout(), []scheduler.Task{task})
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.newClient()
				if err != nil {
					return err
				}
				if err := client.do(cmd.Context(), http.MethodDelete, "/api/tasks/"+args[0], nil, nil); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) createTaskCommand() *cobra.Command {
	var req struct {
		Template    string `json:"template,omitempty"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
		Cron        string `json:"cron,omitempty"`
		Agent       string `json:"agent,omitempty"`
		Prompt      string `json:"prompt,omitempty"`
	}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from flags or a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			var task scheduler.Task
			if err := client.do(cmd.Context(), http.MethodPost, "/api/tasks", req, &task); err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), []scheduler.Task{task})
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Template, "template", "", "create from a named template")
	cmd.Flags().StringVar(&req.Name, "name", "", "task name")
	cmd.Flags().StringVar(&req.Description, "description", "", "task description")
	cmd.Flags().StringVar(&req.Cron, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&req.Agent, "agent", "", "agent role that runs the task")
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "prompt sent on each run")
	return cmd
}

func printTasks(out io.Writer, tasks []scheduler.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "  (no tasks)")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tCRON\tAGENT\tENABLED\tNEXT RUN\tLAST RUN")
	for _, t := range tasks {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			t.ID, t.Name, t.CronExpression, t.Agent, t.Enabled, formatTime(t.NextRun), formatTime(t.LastRun))
	}
	_ = w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04")
}
