package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentbai/formshot-agent/internal/timeago"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored shots for the origin of a page",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var rmCmd = &cobra.Command{
	Use:   "rm <time>",
	Short: "Remove a stored shot",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func runList(cmd *cobra.Command, args []string) error {
	pageURL, _ := cmd.Flags().GetString("url")
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	shots, err := db.ListShots(pageURL)
	if err != nil {
		return err
	}
	if len(shots) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no shots")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTAKEN\tFIELDS\tSIGNATURE\tURL")
	for _, s := range shots {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", s.Time, timeago.FromMillis(s.Time, now), s.FieldCount, s.Signature, s.URL)
	}
	return w.Flush()
}

func runRm(cmd *cobra.Command, args []string) error {
	t, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid shot time %q", args[0])
	}
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteShot(t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed shot %d\n", t)
	return nil
}
