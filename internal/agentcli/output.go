package agentcli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/pkg/export"
)

var failedHeaders = []string{"Local ID", "Student", "Organization", "Booth", "Attempts", "Last Error", "Queued At"}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func failedRows(scans []models.QueuedScan) [][]string {
	rows := make([][]string, 0, len(scans))
	for _, s := range scans {
		rows = append(rows, []string{
			s.LocalID,
			s.StudentID,
			s.OrganizationID,
			s.BoothNumber,
			strconv.Itoa(s.Attempts),
			s.LastError,
			s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func failedDataset(scans []models.QueuedScan) export.Dataset {
	return export.Dataset{
		Title:   "Scans needing attention",
		Headers: failedHeaders,
		Rows:    failedRows(scans),
	}
}

func writeFailedTable(w io.Writer, scans []models.QueuedScan) error {
	if len(scans) == 0 {
		_, err := fmt.Fprintln(w, "No failed scans.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, h := range failedHeaders {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	for _, row := range failedRows(scans) {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
