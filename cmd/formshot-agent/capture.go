package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vincentbai/formshot-agent/internal/database"
	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

var captureCmd = &cobra.Command{
	Use:   "capture <url|file>",
	Short: "Capture the visible form fields of a page or HTML file",
	Long: `Captures every visible input, select and textarea of the target in
document order. The shot is printed as JSON, or stored with --save.`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <url|file>",
	Short: "Put a shot back into a page or HTML file",
	Long: `Restores a stored shot (--shot <time>) or one read from JSON (--from).
Values are applied by position first, then again by element id or name.
When the field counts differ you are asked to confirm, unless --yes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	doc, pageURL, release, err := openTarget(ctx, args[0])
	if err != nil {
		return err
	}
	defer release()

	s, err := snapshot.Capture(ctx, doc)
	if err != nil {
		return err
	}

	save, _ := cmd.Flags().GetBool("save")
	if !save {
		data, err := snapshot.Marshal(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	shot := models.Shot{Time: time.Now().UnixMilli(), URL: pageURL, Data: s}
	if err := db.InsertShot(shot); err != nil {
		return err
	}
	logger.Debug("capture: stored", zap.Int64("time", shot.Time), zap.String("url", pageURL))
	fmt.Fprintf(cmd.OutOrStdout(), "saved shot %d (%d fields) for %s\n", shot.Time, len(s), pageURL)
	return nil
}

func loadShot(cmd *cobra.Command) (snapshot.Snapshot, error) {
	shotTime, _ := cmd.Flags().GetInt64("shot")
	from, _ := cmd.Flags().GetString("from")
	if (shotTime == 0) == (from == "") {
		return nil, errors.New("exactly one of --shot or --from is required")
	}

	if from != "" {
		var (
			data []byte
			err  error
		)
		if from == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(from)
		}
		if err != nil {
			return nil, err
		}
		return snapshot.Unmarshal(data)
	}

	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	shot, err := db.GetShot(shotTime)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("no shot taken at %d", shotTime)
	}
	if err != nil {
		return nil, err
	}
	return shot.Data, nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := loadShot(cmd)
	if err != nil {
		return err
	}

	var confirm snapshot.Confirmer = newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr(), cfg.Restore.ConfirmMismatch)
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		confirm = snapshot.AlwaysConfirm
	}

	doc, pageURL, release, err := openTarget(ctx, args[0])
	if err != nil {
		return err
	}
	defer release()

	res, err := snapshot.Restore(ctx, doc, s, confirm)
	if errors.Is(err, snapshot.ErrDeclined) {
		fmt.Fprintln(cmd.ErrOrStderr(), "restore declined, nothing was changed")
		return err
	}
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		logger.Warn("restore: record not restored", zap.String("url", pageURL), zap.Error(f))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %s: %s\n", pageURL, describe(res))
	return nil
}
