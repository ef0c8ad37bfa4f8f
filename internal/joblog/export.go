// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package joblog

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the fixed column order of the export format.
var CSVHeader = []string{
	"timestamp",
	"backendUsed",
	"taskCategory",
	"durationMs",
	"tokensUsed",
	"cost",
	"success",
}

// WriteCSV writes records to w in the export format, header first.
func WriteCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write(csvRow(r)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvRow(r Record) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Backend,
		string(r.Category),
		strconv.FormatInt(r.DurationMs(), 10),
		strconv.Itoa(r.Tokens),
		strconv.FormatFloat(r.Cost, 'f', -1, 64),
		strconv.FormatBool(r.Success),
	}
}
