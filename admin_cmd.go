package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crashpusher/crashctl/internal/api"
)

var (
	flagUserQuery    string
	flagCrashGrouped bool
	flagCrashTop     int
	flagCrashFix     int64
	flagCrashUnfix   int64
	flagStatsPeriod  string
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users and their crash counts",
		Args:  cobra.NoArgs,
		RunE:  runUsers,
	}

	cmd.Flags().StringVar(&flagUserQuery, "search", "", "filter users by name")

	return cmd
}

func newCrashesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crashes [CRASH_ID]",
		Short: "Browse crash reports",
		Long: "Without an argument, lists crashes across all users. With a crash ID, " +
			"prints the full report content.",
		Args: cobra.MaximumNArgs(1),
		RunE: runCrashes,
	}

	cmd.Flags().BoolVar(&flagCrashGrouped, "grouped", false, "group crashes by signature")
	cmd.Flags().IntVar(&flagCrashTop, "top", 0, "show only the N most frequent signatures")
	cmd.Flags().Int64Var(&flagCrashFix, "fix", 0, "mark a crash as fixed")
	cmd.Flags().Int64Var(&flagCrashUnfix, "unfix", 0, "mark a crash as not fixed")

	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard statistics overview",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	cmd.Flags().StringVar(&flagStatsPeriod, "period", "7d", "trend period (7d, 30d, 90d)")

	return cmd
}

func runUsers(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	ctx, cancel := requestContext()
	defer cancel()

	users, err := client.Users(ctx, flagUserQuery)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(users)
	}

	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			u.Username,
			strconv.Itoa(u.CrashesCount),
		})
	}

	printTable(os.Stdout, []string{"ID", "USERNAME", "CRASHES"}, rows)

	return nil
}

func runCrashes(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	ctx, cancel := requestContext()
	defer cancel()

	if cmd.Flags().Changed("fix") {
		return setFixed(ctx, client, flagCrashFix, true)
	}

	if cmd.Flags().Changed("unfix") {
		return setFixed(ctx, client, flagCrashUnfix, false)
	}

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid crash id %q", args[0])
		}

		crash, err := client.Crash(ctx, id)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(crash)
		}

		fmt.Printf("Crash #%d by %s at %s (fixed: %v)\n\n", crash.ID, crash.PlayerName, crash.CreatedAt, crash.IsFix)
		fmt.Println(crash.Content)

		return nil
	}

	var (
		crashes []api.GroupedCrash
		err     error
	)

	if flagCrashTop > 0 {
		crashes, err = client.TopCrashes(ctx, flagCrashTop)
	} else {
		crashes, err = client.GlobalCrashes(ctx, api.GlobalCrashOpts{Grouped: flagCrashGrouped})
	}

	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(crashes)
	}

	rows := make([][]string, 0, len(crashes))
	for _, c := range crashes {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			truncate(c.Signature, 60),
			strconv.Itoa(c.Count),
			c.LastSeen,
			fixMark(c.IsFix),
		})
	}

	printTable(os.Stdout, []string{"ID", "SIGNATURE", "COUNT", "LAST SEEN", "FIXED"}, rows)

	return nil
}

func setFixed(ctx context.Context, client *api.Client, id int64, fixed bool) error {
	if err := client.SetCrashFixed(ctx, id, fixed); err != nil {
		return err
	}

	statusf("Crash %d marked fixed=%v.\n", id, fixed)

	return nil
}

func runStats(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	ctx, cancel := requestContext()
	defer cancel()

	overview, err := client.Overview(ctx, flagStatsPeriod, 10)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(overview)
	}

	o := overview.Overall
	fmt.Printf("Crashes: %d total, %d fixed (%.0f%% fix rate)\n", o.TotalCrashes, o.FixedCrashes, o.FixRate)
	fmt.Printf("Users:   %d (%.1f crashes per user)\n", o.UniqueUsers, o.AvgCrashesPerUser)

	for _, slice := range overview.FixStatus {
		fmt.Printf("%-9s %d\n", slice.Name+":", slice.Value)
	}

	if len(overview.TopPlayers) > 0 {
		fmt.Println("\nTop players by crashes:")

		rows := make([][]string, 0, len(overview.TopPlayers))
		for _, p := range overview.TopPlayers {
			rows = append(rows, []string{p.Username, strconv.FormatInt(p.CrashCount, 10)})
		}

		printTable(os.Stdout, []string{"PLAYER", "CRASHES"}, rows)
	}

	if len(overview.Trends) > 0 {
		fmt.Printf("\nTrend (%s):\n", flagStatsPeriod)

		for _, p := range overview.Trends {
			fmt.Printf("  %s  %d\n", p.Date, p.Count)
		}
	}

	return nil
}

func fixMark(fixed bool) string {
	if fixed {
		return "yes"
	}

	return "no"
}
