package rules

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/gitoteko/internal/config"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
)

var csvHeader = []string{"workspace", "repo_name", "repo_slug", "local_path", "extensions"}

// WriteLanguageCSVAction upserts one row per (workspace, slug) into a shared
// CSV report. With regenerate disabled an existing row is left untouched;
// with it enabled the row is replaced in place. Rows accumulate across runs.
type WriteLanguageCSVAction struct {
	reportPath string
	regenerate bool
	delimiter  string
}

// NewWriteLanguageCSVAction creates the action for the given report path.
func NewWriteLanguageCSVAction(reportPath string, regenerate bool, delimiter string) *WriteLanguageCSVAction {
	if delimiter == "" {
		delimiter = ";"
	}
	return &WriteLanguageCSVAction{reportPath: reportPath, regenerate: regenerate, delimiter: delimiter}
}

func (*WriteLanguageCSVAction) Name() string { return config.ActionWriteLanguageCSV }

func (a *WriteLanguageCSVAction) Execute(_ context.Context, rc *pipeline.RepoContext) pipeline.ActionResult {
	if err := os.MkdirAll(filepath.Dir(a.reportPath), 0o755); err != nil {
		return a.failure(fmt.Sprintf("Failed to create report directory: %v", err))
	}

	rows, err := a.readRows()
	if err != nil {
		return a.failure(fmt.Sprintf("Failed to read existing report: %v", err))
	}

	target := []string{
		string(rc.WorkspaceID),
		rc.Repository.Name,
		rc.Repository.Slug,
		rc.LocalPath,
		strings.Join(rc.SortedExtensions(), a.delimiter),
	}

	index := findRow(rows, string(rc.WorkspaceID), rc.Repository.Slug)
	if index >= 0 && !a.regenerate {
		return pipeline.ActionResult{
			ActionName: a.Name(),
			Success:    true,
			Message:    "CSV row already exists, skipped",
			Metadata: map[string]any{
				"csv_path":    a.reportPath,
				"row_written": false,
				"regenerate":  false,
			},
		}
	}

	if index >= 0 {
		rows[index] = target
	} else {
		rows = append(rows, target)
	}

	if err := a.writeRows(rows); err != nil {
		return a.failure(fmt.Sprintf("Failed to write report: %v", err))
	}

	return pipeline.ActionResult{
		ActionName: a.Name(),
		Success:    true,
		Message:    "CSV row written",
		Metadata: map[string]any{
			"csv_path":    a.reportPath,
			"row_written": true,
			"regenerate":  a.regenerate,
		},
	}
}

func (a *WriteLanguageCSVAction) failure(message string) pipeline.ActionResult {
	return pipeline.ActionResult{ActionName: a.Name(), Success: false, Message: message}
}

// readRows loads existing data rows (header excluded), padding or truncating
// each row to the fixed column count.
func (a *WriteLanguageCSVAction) readRows() ([][]string, error) {
	file, err := os.Open(a.reportPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]string, len(csvHeader))
		copy(row, record)
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *WriteLanguageCSVAction) writeRows(rows [][]string) error {
	file, err := os.Create(a.reportPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func findRow(rows [][]string, workspace, slug string) int {
	for i, row := range rows {
		if len(row) >= 3 && row[0] == workspace && row[2] == slug {
			return i
		}
	}
	return -1
}
