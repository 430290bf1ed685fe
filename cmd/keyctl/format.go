package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(header []string, rows [][]string) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtOptional(n *int) string {
	if n == nil {
		return "unlimited"
	}
	return strconv.Itoa(*n)
}

func fmtWindow(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func fmtExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func keyRow(key *types.APIKey) []string {
	return []string{
		key.ID,
		key.Name,
		strconv.FormatBool(key.IsActive),
		strconv.FormatBool(key.IsDemo),
		strconv.Itoa(key.Counters.TotalRequests),
		strconv.FormatInt(key.Counters.TotalPatients, 10),
		fmtExpiry(key.ExpiresAt),
		key.CreatedAt.UTC().Format(time.RFC3339),
	}
}

var keyHeader = []string{"id", "name", "active", "demo", "requests", "patients", "expires", "created"}

func printKeys(keys []*types.APIKey) error {
	switch outputFormat {
	case "json":
		return printJSON(keys)
	case "csv":
		rows := make([][]string, len(keys))
		for i, key := range keys {
			rows[i] = keyRow(key)
		}
		return writeCSV(keyHeader, rows)
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACTIVE\tDEMO\tREQUESTS\tPATIENTS\tEXPIRES\tCREATED")
		for _, key := range keys {
			row := keyRow(key)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row[0], row[1], row[2], row[3], row[4], row[5], row[6], row[7])
		}
		return w.Flush()
	}
}

func printKey(key *types.APIKey) error {
	switch outputFormat {
	case "json":
		return printJSON(key)
	case "csv":
		return writeCSV(keyHeader, [][]string{keyRow(key)})
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", key.ID)
		fmt.Fprintf(w, "Name:\t%s\n", key.Name)
		if key.Email != "" {
			fmt.Fprintf(w, "Email:\t%s\n", key.Email)
		}
		fmt.Fprintf(w, "Active:\t%t\n", key.IsActive)
		fmt.Fprintf(w, "Demo:\t%t\n", key.IsDemo)
		fmt.Fprintf(w, "Expires:\t%s\n", fmtExpiry(key.ExpiresAt))
		fmt.Fprintf(w, "Created:\t%s\n", key.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Updated:\t%s\n", key.UpdatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Max patients/request:\t%s\n", fmtOptional(key.Limits.MaxPatientsPerRequest))
		fmt.Fprintf(w, "Max requests/day:\t%s\n", fmtOptional(key.Limits.MaxRequestsPerDay))
		fmt.Fprintf(w, "Max requests/minute:\t%s\n", fmtWindow(key.Limits.MaxRequestsPerMinute))
		fmt.Fprintf(w, "Max requests/hour:\t%s\n", fmtWindow(key.Limits.MaxRequestsPerHour))
		return w.Flush()
	}
}

func printUsage(key *types.APIKey) error {
	type usage struct {
		ID       string            `json:"id"`
		Name     string            `json:"name"`
		Counters types.KeyCounters `json:"counters"`
		Limits   types.KeyLimits   `json:"limits"`
	}
	u := usage{ID: key.ID, Name: key.Name, Counters: key.Counters, Limits: key.Limits}

	switch outputFormat {
	case "json":
		return printJSON(u)
	case "csv":
		header := []string{"id", "name", "total_requests", "total_patients", "daily_requests", "daily_reset_at"}
		row := []string{
			key.ID, key.Name,
			strconv.Itoa(key.Counters.TotalRequests),
			strconv.FormatInt(key.Counters.TotalPatients, 10),
			strconv.Itoa(key.Counters.DailyRequests),
			key.Counters.DailyResetAt.UTC().Format(time.RFC3339),
		}
		return writeCSV(header, [][]string{row})
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", key.ID)
		fmt.Fprintf(w, "Name:\t%s\n", key.Name)
		fmt.Fprintf(w, "Total requests:\t%d\n", key.Counters.TotalRequests)
		fmt.Fprintf(w, "Total patients:\t%d\n", key.Counters.TotalPatients)
		fmt.Fprintf(w, "Requests today:\t%d (resets %s)\n",
			key.Counters.DailyRequests, key.Counters.DailyResetAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Daily cap:\t%s\n", fmtOptional(key.Limits.MaxRequestsPerDay))
		fmt.Fprintf(w, "Minute window:\t%s\n", fmtWindow(key.Limits.MaxRequestsPerMinute))
		fmt.Fprintf(w, "Hour window:\t%s\n", fmtWindow(key.Limits.MaxRequestsPerHour))
		return w.Flush()
	}
}

type keyAggregates struct {
	Total         int   `json:"total"`
	Active        int   `json:"active"`
	Inactive      int   `json:"inactive"`
	Expired       int   `json:"expired"`
	Demo          int   `json:"demo"`
	TotalRequests int   `json:"total_requests"`
	TotalPatients int64 `json:"total_patients"`
}

func aggregate(keys []*types.APIKey) keyAggregates {
	now := time.Now().UTC()
	agg := keyAggregates{Total: len(keys)}
	for _, key := range keys {
		if key.IsActive {
			agg.Active++
		} else {
			agg.Inactive++
		}
		if key.Expired(now) {
			agg.Expired++
		}
		if key.IsDemo {
			agg.Demo++
		}
		agg.TotalRequests += key.Counters.TotalRequests
		agg.TotalPatients += key.Counters.TotalPatients
	}
	return agg
}

func printStats(agg keyAggregates) error {
	switch outputFormat {
	case "json":
		return printJSON(agg)
	case "csv":
		header := []string{"total", "active", "inactive", "expired", "demo", "total_requests", "total_patients"}
		row := []string{
			strconv.Itoa(agg.Total), strconv.Itoa(agg.Active), strconv.Itoa(agg.Inactive),
			strconv.Itoa(agg.Expired), strconv.Itoa(agg.Demo),
			strconv.Itoa(agg.TotalRequests), strconv.FormatInt(agg.TotalPatients, 10),
		}
		return writeCSV(header, [][]string{row})
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Keys:\t%d\n", agg.Total)
		fmt.Fprintf(w, "Active:\t%d\n", agg.Active)
		fmt.Fprintf(w, "Inactive:\t%d\n", agg.Inactive)
		fmt.Fprintf(w, "Expired:\t%d\n", agg.Expired)
		fmt.Fprintf(w, "Demo:\t%d\n", agg.Demo)
		fmt.Fprintf(w, "Total requests:\t%d\n", agg.TotalRequests)
		fmt.Fprintf(w, "Total patients:\t%d\n", agg.TotalPatients)
		return w.Flush()
	}
}

// printSecret is the only place raw key material is ever shown.
func printSecret(key *types.APIKey, raw string) error {
	switch outputFormat {
	case "json":
		return printJSON(struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Key  string `json:"key"`
		}{key.ID, key.Name, raw})
	case "csv":
		return writeCSV([]string{"id", "name", "key"}, [][]string{{key.ID, key.Name, raw}})
	default:
		fmt.Printf("Key ID: %s (%s)\n", key.ID, key.Name)
		fmt.Printf("Secret (shown once, store it now): %s\n", raw)
		return nil
	}
}
