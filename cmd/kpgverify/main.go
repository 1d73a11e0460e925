// Command kpgverify checks the prevHash linkage of audit receipts in a
// local journal.
//
//	kpgverify -journal kpg.db              # every case
//	kpgverify -journal kpg.db -case case-… # one case, with receipts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/store"
)

func main() {
	journalPath := flag.String("journal", "", "path to the sqlite receipt journal")
	caseID := flag.String("case", "", "verify a single case and list its receipts")
	flag.Parse()

	if *journalPath == "" {
		fmt.Fprintln(os.Stderr, "kpgverify: -journal is required")
		os.Exit(2)
	}

	j, err := openJournal(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kpgverify: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ok, err := run(context.Background(), os.Stdout, j, *caseID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kpgverify: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(3)
	}
}

// openJournal opens an existing journal. store.Open would create an empty
// one at a mistyped path.
func openJournal(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return store.Open(path)
}

// run verifies one case, or every case when caseID is empty, and reports
// whether all chains link.
func run(ctx context.Context, w io.Writer, j *store.Store, caseID string) (bool, error) {
	cases := []string{caseID}
	if caseID == "" {
		var err error
		if cases, err = j.Cases(ctx); err != nil {
			return false, err
		}
	}

	allOK := true
	for _, id := range cases {
		receipts, err := j.Receipts(ctx, id)
		if err != nil {
			return false, err
		}
		if caseID != "" && len(receipts) == 0 {
			return false, fmt.Errorf("case %s has no receipts in the journal", caseID)
		}
		if caseID != "" {
			listReceipts(w, receipts)
		}

		gaps := 0
		for _, r := range receipts {
			if !r.Recorded {
				gaps++
			}
		}
		if err := audit.VerifyLinks(receipts); err != nil {
			allOK = false
			fmt.Fprintf(w, "%s: BROKEN (%d receipts, %d gaps): %v\n", id, len(receipts), gaps, err)
			continue
		}
		fmt.Fprintf(w, "%s: ok (%d receipts, %d gaps)\n", id, len(receipts), gaps)
	}
	return allOK, nil
}

func listReceipts(w io.Writer, receipts []audit.Receipt) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Epoch", "Event", "Prev", "Hash", "Status"})
	table.SetAutoWrapText(false)
	for _, r := range receipts {
		status := "recorded"
		if !r.Recorded {
			status = "gap: " + r.Cause
		}
		table.Append([]string{fmt.Sprint(r.Epoch), string(r.EventType), short(r.PrevHash), short(r.Hash), status})
	}
	table.Render()
}

func short(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
