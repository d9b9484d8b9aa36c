// Package export renders a completed run as an XLSX workbook: one summary
// sheet and one row per extracted field with its citation evidence.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
	"github.com/belticlabs/alternate-ocr/internal/extract"
	"github.com/belticlabs/alternate-ocr/internal/repository"
)

const (
	runSheet    = "Run"
	fieldsSheet = "Fields"
)

// Service builds run exports.
type Service struct {
	runs repository.RunRepository
	log  *slog.Logger
}

func NewService(runs repository.RunRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runs: runs, log: logger}
}

// RunXLSX exports one completed run. Returns the workbook bytes and a
// suggested filename.
func (s *Service) RunXLSX(ctx context.Context, runID string) ([]byte, string, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	if run.Status != constants.RunStatusCompleted {
		return nil, "", common.InvalidInputf("run %s is %s; only completed runs export", runID, run.Status)
	}
	payload, err := s.runs.GetPayload(ctx, runID)
	if err != nil {
		return nil, "", err
	}

	var fields extract.FieldsPayload
	if err := json.Unmarshal([]byte(payload.ExtractedFieldsJSON), &fields); err != nil {
		return nil, "", fmt.Errorf("decode stored fields: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeRunSheet(f, run, &fields); err != nil {
		return nil, "", err
	}
	if err := writeFieldsSheet(f, &fields); err != nil {
		return nil, "", err
	}
	f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("write workbook: %w", err)
	}

	s.log.Info("export.run.ok", "run_id", runID, "fields", len(fields.Fields), "bytes", buf.Len())
	return buf.Bytes(), "run-" + runID + ".xlsx", nil
}

func writeRunSheet(f *excelize.File, run *entity.Run, fields *extract.FieldsPayload) error {
	if _, err := f.NewSheet(runSheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Run ID", run.ID},
		{"Status", string(run.Status)},
		{"Mode", string(run.Mode)},
		{"Provider", string(run.Provider)},
		{"Filename", run.Filename},
		{"Pages", run.PageCount},
		{"Fields", len(fields.Fields)},
		{"Created", run.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	if run.TemplateID != "" {
		rows = append(rows, []any{"Template ID", run.TemplateID})
	}
	if fields.SchemaValid != nil {
		rows = append(rows, []any{"Schema Valid", *fields.SchemaValid})
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(runSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeFieldsSheet(f *excelize.File, fields *extract.FieldsPayload) error {
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return err
	}
	header := []any{"Field Path", "Value", "Citations", "Pages", "Block IDs", "Labels"}
	if err := f.SetSheetRow(fieldsSheet, "A1", &header); err != nil {
		return err
	}
	for i, field := range fields.Fields {
		var pages, ids, labels []string
		for _, c := range field.Citations {
			pages = append(pages, fmt.Sprintf("%d", c.PageIndex+1))
			if c.BlockID != "" {
				ids = append(ids, c.BlockID)
			}
			labels = append(labels, string(c.Label))
		}
		row := []any{
			field.FieldPath,
			valueCell(field.Value),
			len(field.Citations),
			strings.Join(dedupe(pages), ", "),
			strings.Join(dedupe(ids), ", "),
			strings.Join(dedupe(labels), ", "),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(fieldsSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// valueCell renders a field value for a spreadsheet cell. Scalars pass
// through; anything structured is serialized.
func valueCell(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, float64, bool, int, int64:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
