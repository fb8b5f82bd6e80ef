package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/game"
	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/repo"
	"github.com/njoerd114/vaultsync/internal/store"
)

// Flags for add subcommands.
var (
	flagXP          int
	flagDescription string
	flagDown        bool
	flagBoth        bool
	flagPriority    string
	flagDue         string
	flagCost        int
)

var flagScoreDown bool

const dateLayout = "2006-01-02"

// vaultFunc runs with the typed collections of an open vault.
type vaultFunc func(ctx context.Context, out io.Writer, c *repo.Collections, svc *game.Service) error

func runVault(cmd *cobra.Command, fn vaultFunc) error {
	ctx := cmd.Context()
	return withVault(ctx, func(_ *config.Config, db *store.Engine, _ *slog.Logger) error {
		c := repo.New(db)
		return fn(ctx, cmd.OutOrStdout(), c, game.NewService(c, nowMillis(db)))
	})
}

// --- add ---------------------------------------------------------------------

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a habit, daily, todo or reward",
}

var addHabitCmd = &cobra.Command{
	Use:   "habit <name>",
	Short: "Add a habit (scored up by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := model.Habit{
			Task:     newTask(args[0]),
			Positive: !flagDown || flagBoth,
			Negative: flagDown || flagBoth,
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			added, err := c.Habits.Add(ctx, h)
			if err != nil {
				return err
			}
			return printAdded(out, "habit", added.ID, added.Name, added)
		})
	},
}

var addDailyCmd = &cobra.Command{
	Use:   "daily <name>",
	Short: "Add a daily",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, err := parseDue(flagDue)
		if err != nil {
			return err
		}
		if due == nil {
			today := startOfDay(time.Now())
			due = &today
		}
		d := model.Daily{Task: newTask(args[0]), DueDate: *due}
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			added, err := c.Dailies.Add(ctx, d)
			if err != nil {
				return err
			}
			return printAdded(out, "daily", added.ID, added.Name, added)
		})
	},
}

var addTodoCmd = &cobra.Command{
	Use:   "todo <name>",
	Short: "Add a todo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, err := parseDue(flagDue)
		if err != nil {
			return err
		}
		t := model.Todo{
			Task:     newTask(args[0]),
			Priority: model.NormalizePriority(flagPriority),
			DueDate:  due,
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			added, err := c.Todos.Add(ctx, t)
			if err != nil {
				return err
			}
			return printAdded(out, "todo", added.ID, added.Name, added)
		})
	},
}

var addRewardCmd = &cobra.Command{
	Use:   "reward <name>",
	Short: "Add a reward bought with caps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCost <= 0 {
			return fmt.Errorf("--cost must be positive")
		}
		r := model.Reward{Task: newTask(args[0]), Cost: flagCost}
		r.XPValue = 0
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			added, err := c.Rewards.Add(ctx, r)
			if err != nil {
				return err
			}
			return printAdded(out, "reward", added.ID, added.Name, added)
		})
	},
}

// --- list --------------------------------------------------------------------

var listCmd = &cobra.Command{
	Use:       "list <habits|dailies|todos|rewards|user>",
	Short:     "List the records of one collection",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"habits", "dailies", "todos", "rewards", "user"},
	RunE: func(cmd *cobra.Command, args []string) error {
		coll, err := model.ParseCollection(args[0])
		if err != nil {
			return err
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			return listCollection(ctx, out, c, coll)
		})
	},
}

func listCollection(ctx context.Context, out io.Writer, c *repo.Collections, coll model.Collection) error {
	switch coll {
	case model.Habits:
		items, err := c.Habits.GetAll(ctx)
		if err != nil || flagJSON {
			return jsonOr(out, items, err)
		}
		t := newTable(out, "ID", "NAME", "XP", "COUNT", "DIRECTION")
		for _, h := range items {
			t.row(h.ID, h.Name, h.XPValue, h.Count, direction(h))
		}
		return t.flush()
	case model.Dailies:
		items, err := c.Dailies.GetAll(ctx)
		if err != nil || flagJSON {
			return jsonOr(out, items, err)
		}
		t := newTable(out, "ID", "NAME", "XP", "DONE", "STREAK", "DUE")
		for _, d := range items {
			t.row(d.ID, d.Name, d.XPValue, check(d.Completed), d.Streak, formatDate(&d.DueDate))
		}
		return t.flush()
	case model.Todos:
		items, err := c.Todos.GetAll(ctx)
		if err != nil || flagJSON {
			return jsonOr(out, items, err)
		}
		t := newTable(out, "ID", "NAME", "XP", "DONE", "PRIORITY", "DUE")
		for _, td := range items {
			t.row(td.ID, td.Name, td.XPValue, check(td.Completed), td.Priority, formatDate(td.DueDate))
		}
		return t.flush()
	case model.Rewards:
		items, err := c.Rewards.GetAll(ctx)
		if err != nil || flagJSON {
			return jsonOr(out, items, err)
		}
		t := newTable(out, "ID", "NAME", "COST", "REDEEMED")
		for _, r := range items {
			t.row(r.ID, r.Name, r.Cost, r.RedemptionCount)
		}
		return t.flush()
	case model.Users:
		u, err := c.User.Get(ctx)
		if err != nil || flagJSON {
			return jsonOr(out, u, err)
		}
		if u == nil {
			fmt.Fprintln(out, "No player yet. It is created on the first daemon start or score.")
			return nil
		}
		t := newTable(out, "LEVEL", "XP", "CAPS")
		t.row(u.Level, u.XP, u.Caps)
		return t.flush()
	default:
		return fmt.Errorf("cannot list %s", coll)
	}
}

// --- game actions ------------------------------------------------------------

var scoreCmd = &cobra.Command{
	Use:   "score <habit-id>",
	Short: "Score a habit up (or down with --down)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, _ *repo.Collections, svc *game.Service) error {
			h, u, err := svc.ScoreHabit(ctx, id, !flagScoreDown)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(out, "%s: count %d\n", h.Name, h.Count)
			printPlayer(out, u)
			return nil
		})
	},
}

var toggleCmd = &cobra.Command{
	Use:       "toggle <daily|todo> <id>",
	Short:     "Complete or reopen a daily or todo",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"daily", "todo"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		kind := args[0]
		if kind != "daily" && kind != "todo" {
			return fmt.Errorf("toggle expects daily or todo, got %q", kind)
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, _ *repo.Collections, svc *game.Service) error {
			if kind == "daily" {
				d, u, err := svc.ToggleDaily(ctx, id)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(out, "%s: %s, streak %d\n", d.Name, doneLabel(d.Completed), d.Streak)
				printPlayer(out, u)
				return nil
			}
			t, u, err := svc.ToggleTodo(ctx, id)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(out, "%s: %s\n", t.Name, doneLabel(t.Completed))
			printPlayer(out, u)
			return nil
		})
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <reward-id>",
	Short: "Spend caps on a reward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, _ *repo.Collections, svc *game.Service) error {
			r, u, err := svc.RedeemReward(ctx, id)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(out, "Redeemed %s (%d times so far)\n", r.Name, r.RedemptionCount)
			printPlayer(out, u)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <habits|dailies|todos|rewards> <id>",
	Short: "Delete a record; deleting a missing id is a no-op",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		coll, err := model.ParseCollection(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return runVault(cmd, func(ctx context.Context, out io.Writer, c *repo.Collections, _ *game.Service) error {
			var d interface {
				Delete(context.Context, int64) error
			}
			switch coll {
			case model.Habits:
				d = c.Habits
			case model.Dailies:
				d = c.Dailies
			case model.Todos:
				d = c.Todos
			case model.Rewards:
				d = c.Rewards
			default:
				return fmt.Errorf("cannot delete from %s", coll)
			}
			if err := d.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %s %d\n", coll, id)
			return nil
		})
	},
}

func init() {
	addCmd.PersistentFlags().IntVar(&flagXP, "xp", 10, "experience awarded on completion")
	addCmd.PersistentFlags().StringVar(&flagDescription, "description", "", "optional description")
	addHabitCmd.Flags().BoolVar(&flagDown, "down", false, "negative habit (scored down)")
	addHabitCmd.Flags().BoolVar(&flagBoth, "both", false, "habit can be scored both ways")
	addDailyCmd.Flags().StringVar(&flagDue, "due", "", "due date (YYYY-MM-DD, default today)")
	addTodoCmd.Flags().StringVar(&flagDue, "due", "", "due date (YYYY-MM-DD)")
	addTodoCmd.Flags().StringVar(&flagPriority, "priority", "medium", "low, medium or high")
	addRewardCmd.Flags().IntVar(&flagCost, "cost", 0, "price in caps")
	addCmd.AddCommand(addHabitCmd, addDailyCmd, addTodoCmd, addRewardCmd)

	scoreCmd.Flags().BoolVar(&flagScoreDown, "down", false, "score the habit down")
}

// --- helpers -----------------------------------------------------------------

func newTask(name string) model.Task {
	return model.Task{Name: name, Description: flagDescription, XPValue: flagXP}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseDue(s string) (*int64, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // no due date
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --due %q: want YYYY-MM-DD", s)
	}
	ms := model.Millis(t)
	return &ms, nil
}

func startOfDay(t time.Time) int64 {
	y, m, d := t.Date()
	return model.Millis(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
}

func formatDate(ms *int64) string {
	if ms == nil || *ms == 0 {
		return "-"
	}
	return time.UnixMilli(*ms).Local().Format(dateLayout)
}

func direction(h model.Habit) string {
	switch {
	case h.Positive && h.Negative:
		return "+/-"
	case h.Negative:
		return "-"
	default:
		return "+"
	}
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return ""
}

func doneLabel(b bool) string {
	if b {
		return "completed"
	}
	return "reopened"
}

func printAdded(out io.Writer, kind string, id int64, name string, v any) error {
	if flagJSON {
		return writeJSON(out, v)
	}
	fmt.Fprintf(out, "Added %s %d: %s\n", kind, id, name)
	return nil
}

func printPlayer(out io.Writer, u *model.User) {
	if u == nil {
		return
	}
	fmt.Fprintf(out, "Player: level %d, %d XP, %d caps\n", u.Level, u.XP, u.Caps)
}

func jsonOr(out io.Writer, v any, err error) error {
	if err != nil {
		return err
	}
	return writeJSON(out, v)
}

// describe turns game and store sentinels into CLI-friendly errors.
func describe(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("no such record: %w", err)
	case errors.Is(err, game.ErrInsufficientCaps):
		return fmt.Errorf("not enough caps: %w", err)
	case errors.Is(err, game.ErrInvalidHabit):
		return fmt.Errorf("habit cannot be scored that way (try --down): %w", err)
	default:
		return err
	}
}

type table struct{ tw *tabwriter.Writer }

func newTable(w io.Writer, headers ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
	cols := make([]any, len(headers))
	for i, h := range headers {
		cols[i] = h
	}
	t.row(cols...)
	return t
}

func (t *table) row(cols ...any) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(t.tw, "\t")
		}
		fmt.Fprint(t.tw, c)
	}
	fmt.Fprintln(t.tw)
}

func (t *table) flush() error { return t.tw.Flush() }
