package report

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Print writes a human-readable summary.
func Print(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if s.RunID != "" {
		fmt.Fprintf(tw, "Run\t%s\n", s.RunID)
	}
	if s.Status != "" {
		fmt.Fprintf(tw, "Status\t%s\n", s.Status)
	}
	fmt.Fprintf(tw, "Total URLs\t%d\n", s.Stats.Total)
	fmt.Fprintf(tw, "Completed\t%d\n", s.Stats.Completed)
	fmt.Fprintf(tw, "Failed\t%d\n", s.Stats.Failed)
	fmt.Fprintf(tw, "Pending\t%d\n", s.Stats.Pending+s.Stats.InProgress)
	fmt.Fprintf(tw, "Success rate\t%.1f%%\n", s.SuccessRate)
	if s.Content.Pages > 0 {
		fmt.Fprintf(tw, "Content\t%d pages, %d bytes (avg %.0f, max %d)\n",
			s.Content.Pages, s.Content.TotalBytes, s.Content.AverageBytes, s.Content.LargestBytes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Levels) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Level\tTotal\tCompleted\tFailed\tPending")
		for _, l := range s.Levels {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", l.Level, l.Total, l.Completed, l.Failed, l.Pending)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors")
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %4d  %s\n", e.Count, e.Message)
		}
	}
	return nil
}
