package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Write prints a human-readable summary of r, highest priority first as
// configured.
func (r *Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "run %s: %s in %s (%s/s)\n",
		r.RunID,
		humanize.IBytes(uint64(r.TotalBytes())),
		r.Elapsed.Round(time.Millisecond),
		humanize.IBytes(rate(r.TotalBytes(), r.Elapsed)),
	); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ops: inserted=%s rejected=%s issued=%s completed=%s released=%s\n\n",
		humanize.Comma(int64(r.Inserted)),
		humanize.Comma(int64(r.Rejected)),
		humanize.Comma(int64(r.Issued)),
		humanize.Comma(int64(r.Completed)),
		humanize.Comma(int64(r.Released)),
	); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "stream\tprio\tops\terrors\tbytes\tfinished\tmean\tp99\tmax\t")
	for _, s := range r.Streams {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			s.ID,
			s.Priority,
			humanize.Comma(int64(s.Ops)),
			s.Errors,
			humanize.IBytes(uint64(s.Bytes)),
			s.Finished.Round(time.Millisecond),
			s.MeanLatency.Round(time.Microsecond),
			s.P99Latency.Round(time.Microsecond),
			s.MaxLatency.Round(time.Microsecond),
		)
	}
	return tw.Flush()
}

func rate(bytes int64, d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(float64(bytes) / d.Seconds())
}
