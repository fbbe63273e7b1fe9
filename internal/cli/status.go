package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/cruxrel/internal/protocol"
	"github.com/dustin/go-humanize"
)

// Represents the 'cruxrel status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	var status protocol.StatusResult
	if err := call(ctx, socketPath(), protocol.CmdStatus, nil, &status, nil); err != nil {
		return err
	}

	state := "idle"
	if status.Busy {
		state = "releasing"
	}
	fmt.Printf("cruxrel %s (pid %d), up %s, %s, %d releases\n",
		status.Version, status.Pid, status.Uptime, state, status.Releases)

	if len(status.Recent) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tVERSION\tHASH\tUPLOADED")
	for _, r := range status.Recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Version, r.Hash, humanize.Time(r.UploadedAt))
	}
	return w.Flush()
}
