package extract

import (
	"strconv"
	"strings"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

// Synthesize builds a citation-complete payload straight from the normalized
// blocks when no schema is supplied. No network call: every field self-cites
// the block it came from, so citations are always resolvable.
func Synthesize(blocks []layout.Block) FieldsPayload {
	summary := map[string]any{
		"total_blocks":   len(blocks),
		"text_blocks":    0,
		"table_blocks":   0,
		"image_blocks":   0,
		"formula_blocks": 0,
	}
	pageText := map[string][]string{}
	records := make([]any, 0, len(blocks))
	tables := []any{}
	images := []any{}

	fields := make([]Field, 0, len(blocks))
	for _, b := range blocks {
		switch b.Label {
		case constants.BlockText:
			summary["text_blocks"] = summary["text_blocks"].(int) + 1
		case constants.BlockTable:
			summary["table_blocks"] = summary["table_blocks"].(int) + 1
		case constants.BlockImage:
			summary["image_blocks"] = summary["image_blocks"].(int) + 1
		case constants.BlockFormula:
			summary["formula_blocks"] = summary["formula_blocks"].(int) + 1
		}

		if b.Label == constants.BlockText || b.Label == constants.BlockFormula {
			key := strconv.Itoa(b.PageIndex)
			pageText[key] = append(pageText[key], b.Content)
		}

		rec := blockRecord(b)
		records = append(records, rec)
		if b.Label == constants.BlockTable {
			tables = append(tables, rec)
		}
		if b.Label == constants.BlockImage {
			images = append(images, rec)
		}

		fields = append(fields, Field{
			FieldPath: "blocks." + b.ID + ".content",
			Value:     b.Content,
			Citations: []citation.FieldCitation{
				citation.FromBlock("blocks."+b.ID+".content", b),
			},
		})
	}

	pages := map[string]any{}
	for k, parts := range pageText {
		pages[k] = strings.Join(parts, "\n\n")
	}

	values := map[string]any{
		"summary": summary,
		"pages":   pages,
		"blocks":  records,
		"tables":  tables,
		"images":  images,
	}
	return FieldsPayload{Values: values, Fields: fields}
}

func blockRecord(b layout.Block) map[string]any {
	return map[string]any{
		"id":         b.ID,
		"pageIndex":  b.PageIndex,
		"index":      b.Index,
		"label":      string(b.Label),
		"bbox2d":     []any{b.BBox2D[0], b.BBox2D[1], b.BBox2D[2], b.BBox2D[3]},
		"content":    b.Content,
		"pageWidth":  b.PageWidth,
		"pageHeight": b.PageHeight,
	}
}
