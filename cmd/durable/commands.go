package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/diag"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations of the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.backend(false)
			if err != nil {
				return err
			}
			defer b.Close()

			m, ok := b.(migrator)
			if !ok {
				a.logger.Info("Backend does not use migrations", "backend", a.cfg.Backend)
				return nil
			}

			if err := m.Migrate(); err != nil {
				return err
			}

			a.logger.Info("Migrations applied", "backend", a.cfg.Backend)
			return nil
		},
	}
}

func newStartCommand(a *app) *cobra.Command {
	var instanceID string

	cmd := &cobra.Command{
		Use:   "start <workflow> [json args...]",
		Short: "Start a workflow instance, a worker picks it up",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := jsonArgs(args[1:])
			if err != nil {
				return err
			}

			return a.withClient(func(_ backend.Backend, c *client.Client) error {
				instance, err := c.CreateWorkflowInstance(cmd.Context(), client.WorkflowInstanceOptions{InstanceID: instanceID}, args[0], inputs...)
				if err != nil {
					return err
				}

				fmt.Fprintln(a.out, instance.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&instanceID, "id", "", "workflow id, random if empty")

	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var (
		statuses []string
		name     string
		count    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options := backend.ListOptions{Name: name, Limit: count, Offset: offset}
			for _, s := range statuses {
				status := core.WorkflowStatus(strings.ToUpper(s))
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}

				options.Statuses = append(options.Statuses, status)
			}

			return a.withClient(func(_ backend.Backend, c *client.Client) error {
				instances, err := c.ListWorkflowInstances(cmd.Context(), options)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tATTEMPTS\tCREATED\tUPDATED")
				for _, i := range instances {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						i.ID, i.Name, i.Status, i.Attempts, i.CreatedAt.Format(time.RFC3339), i.UpdatedAt.Format(time.RFC3339))
				}

				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only list instances in the given states")
	cmd.Flags().StringVar(&name, "name", "", "only list instances of the given workflow")
	cmd.Flags().IntVar(&count, "count", 25, "maximum number of instances")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of instances to skip")

	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <workflow id>",
		Short: "Show a workflow instance with its steps, events and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(b backend.Backend, _ *client.Client) error {
				info, err := diag.GetWorkflowInstanceInfo(cmd.Context(), b, args[0])
				if err != nil {
					return err
				}

				if output == "yaml" {
					return a.printYAML(info)
				}

				return a.printJSON(info)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json, yaml")

	return cmd
}

func newResultCommand(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "result <workflow id>",
		Short: "Wait for a workflow instance to finish and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(_ backend.Backend, c *client.Client) error {
				result, err := client.GetWorkflowResult[json.RawMessage](cmd.Context(), c, args[0], timeout)
				if err != nil {
					return err
				}

				fmt.Fprintln(a.out, string(result))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait, 0 waits forever")

	return cmd
}

func newSendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <workflow id> <topic> <json>",
		Short: "Send a message to a workflow instance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := jsonArgs(args[2:])
			if err != nil {
				return err
			}

			return a.withClient(func(_ backend.Backend, c *client.Client) error {
				return c.Send(cmd.Context(), args[0], args[1], message[0])
			})
		},
	}
}

func newGetEventCommand(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "get-event <workflow id> <key>",
		Short: "Print the value of an event set by a workflow instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(_ backend.Backend, c *client.Client) error {
				value, ok, err := client.GetEvent[json.RawMessage](cmd.Context(), c, args[0], args[1], timeout)
				if err != nil {
					return err
				}

				if !ok {
					return fmt.Errorf("event %q was not set within %v", args[1], timeout)
				}

				fmt.Fprintln(a.out, string(value))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the event to be set")

	return cmd
}

func jsonArgs(args []string) ([]any, error) {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, fmt.Errorf("argument is not valid JSON: %s", arg)
		}

		values = append(values, json.RawMessage(arg))
	}

	return values, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML prints v with the field names of its JSON encoding
func (a *app) printYAML(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}

	return enc.Close()
}
