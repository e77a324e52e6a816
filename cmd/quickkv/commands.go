package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/neogan74/quickkv/internal/collection"
	"github.com/neogan74/quickkv/internal/database"
	"github.com/neogan74/quickkv/internal/ttl"
)

// tableCmd builds a command whose first argument names the table
func (c *cli) tableCmd(use, short string, args int, run func(cmd *cobra.Command, col *collection.Collection, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(args),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withDB(ctx, func(db *database.Database) error {
				col, err := db.Collection(ctx, args[0])
				if err != nil {
					return err
				}
				return run(cmd, col, args[1:])
			})
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return c.tableCmd("get [table] [key]", "Print the value stored under a key", 2,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			v, ok, err := col.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), v)
		})
}

func (c *cli) setCmd() *cobra.Command {
	return c.tableCmd("set [table] [key] [value]", "Store a value; JSON is parsed, anything else is kept as text", 3,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			var opts []collection.SetOption
			if d := c.cfg.Collection.DefaultTTL; d > 0 {
				opts = append(opts, collection.WithTTL(d))
			}
			if err := col.Set(cmd.Context(), args[0], c.parseValue(args[1]), opts...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		})
}

func (c *cli) deleteCmd() *cobra.Command {
	return c.tableCmd("delete [table] [key]", "Remove a key", 2,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			if err := col.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		})
}

func (c *cli) clearCmd() *cobra.Command {
	return c.tableCmd("clear [table]", "Remove every key of a table", 1,
		func(cmd *cobra.Command, col *collection.Collection, _ []string) error {
			if err := col.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		})
}

func (c *cli) hasCmd() *cobra.Command {
	return c.tableCmd("has [table] [key]", "Report whether a key is stored, expired or not", 2,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			ok, err := col.Has(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		})
}

func (c *cli) allCmd() *cobra.Command {
	return c.tableCmd("all [table]", "Print every live entry as a JSON object", 1,
		func(cmd *cobra.Command, col *collection.Collection, _ []string) error {
			items, err := col.All(cmd.Context())
			if err != nil {
				return err
			}
			out := make(map[string]any, len(items))
			for _, it := range items {
				out[it.Key] = it.Value
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
}

func (c *cli) keysCmd() *cobra.Command {
	return c.tableCmd("keys [table]", "Print the live keys of a table", 1,
		func(cmd *cobra.Command, col *collection.Collection, _ []string) error {
			keys, err := col.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		})
}

func (c *cli) pushCmd() *cobra.Command {
	return c.tableCmd("push [table] [key] [value]", "Append a value to a list and print its length", 3,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			n, err := col.Push(cmd.Context(), args[0], c.parseValue(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
}

func (c *cli) unshiftCmd() *cobra.Command {
	return c.tableCmd("unshift [table] [key] [value]", "Prepend a value to a list and print its length", 3,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			n, err := col.Unshift(cmd.Context(), args[0], c.parseValue(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
}

func (c *cli) shiftCmd() *cobra.Command {
	return c.tableCmd("shift [table] [key]", "Remove and print the first element of a list", 2,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			v, ok, err := col.Shift(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s is empty", errNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), v)
		})
}

func (c *cli) updateCmd() *cobra.Command {
	return c.tableCmd("update [table] [key] [json-object]", "Merge fields into an object and print the result", 3,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			partial, ok := c.parseValue(args[1]).(map[string]any)
			if !ok {
				return fmt.Errorf("update expects a JSON object, got %q", args[1])
			}
			merged, err := col.Update(cmd.Context(), args[0], partial)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), merged)
		})
}

func (c *cli) incrCmd() *cobra.Command {
	return c.counterCmd("incr", "Add to a number and print the result", false)
}

func (c *cli) decrCmd() *cobra.Command {
	return c.counterCmd("decr", "Subtract from a number and print the result", true)
}

func (c *cli) counterCmd(name, short string, negate bool) *cobra.Command {
	cmd := c.tableCmd(name+" [table] [key] [amount]", short, 0,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			amount := 1.0
			if len(args) == 2 {
				var err error
				if amount, err = strconv.ParseFloat(args[1], 64); err != nil {
					return fmt.Errorf("amount must be a number: %w", err)
				}
			}

			var (
				result float64
				err    error
			)
			if negate {
				result, err = col.Decrement(cmd.Context(), args[0], amount)
			} else {
				result, err = col.Increment(cmd.Context(), args[0], amount)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	cmd.Args = cobra.RangeArgs(2, 3)
	return cmd
}

func (c *cli) ttlCmd() *cobra.Command {
	return c.tableCmd("ttl [table] [key]", "Print the time left before a key expires", 2,
		func(cmd *cobra.Command, col *collection.Collection, args []string) error {
			items, err := col.Fetch(cmd.Context(), func(it collection.Item) bool { return it.Key == args[0] })
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}

			left, ok := ttl.Remaining(items[0].TTL, time.Now())
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "never")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (at %s)\n", left.Round(time.Millisecond), ttl.Time(items[0].TTL).Format(time.RFC3339))
			return nil
		})
}

func (c *cli) restoreCmd() *cobra.Command {
	return c.tableCmd("restore [table]", "Reload a table from its backup", 1,
		func(cmd *cobra.Command, col *collection.Collection, _ []string) error {
			if err := col.Restore(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		})
}
