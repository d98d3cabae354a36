package cmd

import (
	"context"
	"fmt"

	"github.com/rubiojr/calchat/pkg/backend"
	"github.com/urfave/cli/v3"
)

// ListsCommand creates the lists command
func ListsCommand() *cli.Command {
	return &cli.Command{
		Name:  "lists",
		Usage: "Show task lists",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := loadApp(c.String("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			lists, err := a.backend.TaskLists(ctx)
			if err != nil {
				return fmt.Errorf("fetching task lists: %w", err)
			}
			if len(lists) == 0 {
				fmt.Println("No task lists")
				return nil
			}
			for _, l := range lists {
				shared := ""
				if l.Shared {
					shared = " (shared)"
				}
				fmt.Printf("%6s  %-30s %3d tasks%s\n", l.ID, l.Name, l.TaskCount, shared)
			}
			return nil
		},
	}
}

// TasksCommand creates the tasks command
func TasksCommand() *cli.Command {
	listFlag := &cli.StringFlag{
		Name:     "list",
		Usage:    "Task list id",
		Required: true,
	}

	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show the tasks of a list",
				Flags: []cli.Flag{listFlag},
				Action: withBackend(func(ctx context.Context, c *cli.Command, b *backend.Client) error {
					tasks, err := b.Tasks(ctx, backend.ID(c.String("list")))
					if err != nil {
						return fmt.Errorf("fetching tasks: %w", err)
					}
					for _, t := range tasks {
						due := ""
						if t.DueDate != "" {
							due = "  due " + t.DueDate
						}
						fmt.Printf("%s %6s  %s%s\n", checkbox(bool(t.Completed)), t.ID, t.Title, due)
					}
					fmt.Printf("%d tasks\n", len(tasks))
					return nil
				}),
			},
			{
				Name:      "create",
				Usage:     "Create a task",
				ArgsUsage: "TITLE",
				Flags: []cli.Flag{
					listFlag,
					&cli.StringFlag{Name: "description", Usage: "Task description"},
					&cli.StringFlag{Name: "due", Usage: "Due date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "priority", Usage: "low, medium or high"},
				},
				Action: withBackend(func(ctx context.Context, c *cli.Command, b *backend.Client) error {
					title := c.Args().First()
					if title == "" {
						return fmt.Errorf("a task title is required")
					}
					res, err := b.CreateTask(ctx, backend.Task{
						ListID:      backend.ID(c.String("list")),
						Title:       title,
						Description: c.String("description"),
						DueDate:     c.String("due"),
						Priority:    c.String("priority"),
					})
					if err != nil {
						return fmt.Errorf("creating task: %w", err)
					}
					fmt.Printf("Created task %s\n", res.ID)
					return nil
				}),
			},
			{
				Name:      "toggle",
				Usage:     "Mark a task done, or not done with --undo",
				ArgsUsage: "TASK_ID",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "undo", Usage: "Mark the task as not done"}},
				Action: withBackend(func(ctx context.Context, c *cli.Command, b *backend.Client) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("a task id is required")
					}
					if _, err := b.ToggleTask(ctx, backend.ID(id), !c.Bool("undo")); err != nil {
						return fmt.Errorf("toggling task: %w", err)
					}
					fmt.Printf("Task %s updated\n", id)
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "TASK_ID",
				Action: withBackend(func(ctx context.Context, c *cli.Command, b *backend.Client) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("a task id is required")
					}
					if _, err := b.DeleteTask(ctx, backend.ID(id)); err != nil {
						return fmt.Errorf("deleting task: %w", err)
					}
					fmt.Printf("Task %s deleted\n", id)
					return nil
				}),
			},
			{
				Name:  "clear-completed",
				Usage: "Delete the completed tasks of a list",
				Flags: []cli.Flag{listFlag},
				Action: withBackend(func(ctx context.Context, c *cli.Command, b *backend.Client) error {
					res, err := b.DeleteCompletedTasks(ctx, backend.ID(c.String("list")))
					if err != nil {
						return fmt.Errorf("clearing completed tasks: %w", err)
					}
					if res.Message != "" {
						fmt.Println(res.Message)
					} else {
						fmt.Println("Completed tasks deleted")
					}
					return nil
				}),
			},
		},
	}
}

// withBackend loads the app for an action that only needs the backend.
func withBackend(fn func(ctx context.Context, c *cli.Command, b *backend.Client) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		a, err := loadApp(c.String("config"))
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, c, a.backend)
	}
}
