// Command tspv-report prints per-status summaries of relayed samples, read
// either from the relay's database or from a running relay's API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tspv.relay/internal/api"
	"github.com/banshee-data/tspv.relay/internal/db"
)

var (
	dbFile   = flag.String("db", "tspv.db", "SQLite database written by tspv-relay")
	relayURL = flag.String("relay", "", "Base URL of a running relay (e.g. http://localhost:8080); overrides -db")
	asJSON   = flag.Bool("json", false, "Print the summary as JSON")
	timeout  = flag.Duration("timeout", 5*time.Second, "Timeout for requests to -relay")
	plotFile = flag.String("plot", "", "Also write a time-series chart of recent samples to this file (.png, .svg, .pdf)")
	plotN    = flag.Int("plot-samples", 1000, "Number of recent samples to chart with -plot")
	reset    = flag.Bool("reset", false, "Reset the relay's processor counters after reporting (requires -relay)")
)

func main() {
	flag.Parse()

	if *reset && *relayURL == "" {
		log.Fatal("-reset requires -relay")
	}

	var (
		summary []db.StatusSummary
		samples []db.StoredSample
		status  *api.Status
		err     error
	)
	if *relayURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		c := api.NewClient(*relayURL, nil)
		st, err := c.Status(ctx)
		if err != nil {
			log.Fatalf("failed to fetch relay status: %v", err)
		}
		status = &st
		if summary, err = c.Summary(ctx); err != nil {
			log.Fatalf("failed to fetch summary: %v", err)
		}
		if *plotFile != "" {
			if samples, err = c.Samples(ctx, *plotN); err != nil {
				log.Fatalf("failed to fetch samples: %v", err)
			}
		}
		if *reset {
			after, err := c.Reset(ctx)
			if err != nil {
				log.Fatalf("failed to reset relay: %v", err)
			}
			log.Printf("relay counters reset (resets %d)", after.Stats.Resets)
		}
	} else {
		if _, err := os.Stat(*dbFile); err != nil {
			log.Fatalf("database not found: %v", err)
		}
		database, err := db.OpenDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if summary, err = database.SummaryByStatus(); err != nil {
			log.Fatalf("failed to summarise samples: %v", err)
		}
		if *plotFile != "" {
			if samples, err = database.RecentSamples(*plotN); err != nil {
				log.Fatalf("failed to read samples: %v", err)
			}
		}
	}

	if *plotFile != "" {
		if err := writePlot(*plotFile, samples); err != nil {
			log.Fatalf("failed to write plot: %v", err)
		}
		log.Printf("wrote %s", *plotFile)
	}

	if *asJSON {
		err = json.NewEncoder(os.Stdout).Encode(struct {
			Status  *api.Status        `json:"status,omitempty"`
			Summary []db.StatusSummary `json:"summary"`
			Overall overall            `json:"overall"`
		}{status, summary, overallOf(summary)})
	} else {
		err = writeReport(os.Stdout, status, summary)
	}
	if err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
}

type overall struct {
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	Recovered int     `json:"recovered"`
}

// overallOf combines per-status groups, weighting each mean by its count.
func overallOf(summary []db.StatusSummary) overall {
	var o overall
	if len(summary) == 0 {
		return o
	}
	means := make([]float64, len(summary))
	weights := make([]float64, len(summary))
	for i, s := range summary {
		means[i] = s.Mean
		weights[i] = float64(s.Count)
		o.Count += s.Count
		o.Recovered += s.Recovered
	}
	o.Mean = stat.Mean(means, weights)
	return o
}

func writeReport(w io.Writer, status *api.Status, summary []db.StatusSummary) error {
	if status != nil {
		st := status.Stats
		fmt.Fprintf(w, "Relay up %s, last packet %d, window %d\n", status.Uptime, status.LastProcessedID, status.HistoryWindow)
		fmt.Fprintf(w, "  received %d, dispatched %d, rejected %d\n", st.Received, st.Dispatched, st.Rejected)
		fmt.Fprintf(w, "  gaps %d, recovered %d of %d requested, unavailable %d, lost %d\n\n",
			st.Gaps, st.Recovered, st.Requested, st.Unavailable, st.Lost)
	}

	if len(summary) == 0 {
		_, err := fmt.Fprintln(w, "No samples recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "status1\tstatus2\tcount\tmean\tstddev\tmin\tmax\trecovered\t")
	for _, s := range summary {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%d\t\n",
			s.Status1, s.Status2, s.Count, s.Mean, s.StdDev, s.Min, s.Max, s.Recovered)
	}
	o := overallOf(summary)
	fmt.Fprintf(tw, "all\t\t%d\t%.3f\t\t\t\t%d\t\n", o.Count, o.Mean, o.Recovered)
	return tw.Flush()
}
