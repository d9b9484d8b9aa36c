// Package layout converts provider-specific page layouts into one canonical
// block model. Providers disagree on label vocabularies, coordinate units
// (pixels vs fractions) and corner ordering; everything downstream (citation
// resolution, synthesis, persistence) sees only NormalizedBlock.
package layout

import (
	"fmt"
	"strings"

	"github.com/belticlabs/alternate-ocr/constants"
)

// Block is a single page-level content unit with a stable identity.
// IDs are "{pageIndex}:{index}" and act as the join key for citations.
type Block struct {
	ID         string               `json:"id"`
	PageIndex  int                  `json:"pageIndex"`
	Index      int                  `json:"index"`
	Label      constants.BlockLabel `json:"label"`
	BBox2D     [4]float64           `json:"bbox2d"`
	Content    string               `json:"content"`
	PageWidth  float64              `json:"pageWidth,omitempty"`
	PageHeight float64              `json:"pageHeight,omitempty"`
}

// Area returns the fractional bbox area. Normalization guarantees x1<=x2 and
// y1<=y2, so this is never negative for normalized blocks.
func (b Block) Area() float64 {
	return (b.BBox2D[2] - b.BBox2D[0]) * (b.BBox2D[3] - b.BBox2D[1])
}

// SourceBlock is one provider-native block before normalization.
type SourceBlock struct {
	// Index is the provider's own stable per-page index, or -1 when the
	// provider does not supply one (positional enumeration is used instead).
	Index   int
	Label   string
	BBox    []float64 // raw coordinates, pixel or fractional; empty when absent
	Content string
}

// SourcePage is one provider-native page.
type SourcePage struct {
	Width  float64 // native pixel width; 0 when coordinates are already fractional
	Height float64
	Blocks []SourceBlock
}

// Result is the normalizer output.
type Result struct {
	Blocks    []Block `json:"blocks"`
	PageCount int     `json:"pageCount"`
}

// Normalize converts a provider layout into the canonical block sequence.
// Pure function of its input; a page with zero blocks still counts toward
// PageCount.
func Normalize(pages []SourcePage) Result {
	res := Result{PageCount: len(pages)}
	for pageIdx, page := range pages {
		for pos, src := range page.Blocks {
			idx := src.Index
			if idx < 0 {
				idx = pos
			}
			b := Block{
				ID:         fmt.Sprintf("%d:%d", pageIdx, idx),
				PageIndex:  pageIdx,
				Index:      idx,
				Label:      MapLabel(src.Label),
				BBox2D:     normalizeBBox(src.BBox, page.Width, page.Height),
				Content:    src.Content,
				PageWidth:  page.Width,
				PageHeight: page.Height,
			}
			res.Blocks = append(res.Blocks, b)
		}
	}
	return res
}

// ByID indexes blocks by their id for citation joins.
func ByID(blocks []Block) map[string]Block {
	m := make(map[string]Block, len(blocks))
	for _, b := range blocks {
		m[b.ID] = b
	}
	return m
}

// OnPage returns the blocks belonging to one page, in block order.
func OnPage(blocks []Block, pageIndex int) []Block {
	var out []Block
	for _, b := range blocks {
		if b.PageIndex == pageIndex {
			out = append(out, b)
		}
	}
	return out
}

// MapLabel folds a provider-native label into the closed label set. Unknown
// labels never pass through raw; anything unrecognized becomes text.
func MapLabel(raw string) constants.BlockLabel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "table", "table_body", "table_title", "table_caption":
		return constants.BlockTable
	case "image", "figure", "figure_title", "chart", "picture", "seal", "qr_code":
		return constants.BlockImage
	case "formula", "equation", "display_formula", "inline_formula", "formula_number":
		return constants.BlockFormula
	default:
		return constants.BlockText
	}
}

// normalizeBBox converts raw coordinates to fractional [x1,y1,x2,y2] with
// x1<=x2, y1<=y2 and every value clamped to [0,1]. Coordinates already <= 1
// are assumed fractional and passed through (clamped); otherwise each axis is
// divided by the page dimension. Some providers report swapped corners, so
// corners are reordered with min/max.
func normalizeBBox(raw []float64, pageW, pageH float64) [4]float64 {
	if len(raw) < 4 {
		return [4]float64{}
	}
	x1, y1, x2, y2 := raw[0], raw[1], raw[2], raw[3]

	pixel := x1 > 1 || y1 > 1 || x2 > 1 || y2 > 1
	if pixel && pageW > 0 && pageH > 0 {
		x1, x2 = x1/pageW, x2/pageW
		y1, y2 = y1/pageH, y2/pageH
	}

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return [4]float64{clamp01(x1), clamp01(y1), clamp01(x2), clamp01(y2)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
