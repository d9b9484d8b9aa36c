// Package citation links extracted field values back to the layout blocks
// that visually support them. Two strategies exist: hint-based resolution when
// the extractor names source block ids, and content matching when only the
// value and the page blocks are available. Content matching is best-effort;
// duplicate or very short values can miss or mis-cite, and that is accepted.
package citation

import (
	"sort"
	"strings"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

// FieldCitation links one extracted field to one piece of spatial evidence.
// BlockIndex -1 with a zero bbox is the "whole page, no block" sentinel used
// when only page-level evidence exists.
type FieldCitation struct {
	FieldPath  string               `json:"fieldPath"`
	PageIndex  int                  `json:"pageIndex"`
	BlockID    string               `json:"blockId"`
	BlockIndex int                  `json:"blockIndex"`
	BBox2D     [4]float64           `json:"bbox2d"`
	Label      constants.BlockLabel `json:"label"`
}

// Hint is one extractor-supplied citation hint: a field path plus the block
// ids claimed to support it.
type Hint struct {
	FieldPath      string   `json:"field_path"`
	SourceBlockIDs []string `json:"source_block_ids"`
}

// FromBlock builds a citation pointing at a block's own location.
func FromBlock(fieldPath string, b layout.Block) FieldCitation {
	return FieldCitation{
		FieldPath:  fieldPath,
		PageIndex:  b.PageIndex,
		BlockID:    b.ID,
		BlockIndex: b.Index,
		BBox2D:     b.BBox2D,
		Label:      b.Label,
	}
}

// ResolveHints emits one citation per referenced block id that exists in the
// block map. Unknown ids are dropped silently: the extractor may hallucinate
// ids, and a missing citation is better than a failed run.
func ResolveHints(hints []Hint, blocksByID map[string]layout.Block) []FieldCitation {
	var out []FieldCitation
	for _, h := range hints {
		for _, id := range h.SourceBlockIDs {
			b, ok := blocksByID[id]
			if !ok {
				continue
			}
			out = append(out, FromBlock(h.FieldPath, b))
		}
	}
	return out
}

// Config holds the content-matching heuristic knobs. The defaults have no
// principled derivation; they are tuned, which is why they stay configurable.
type Config struct {
	// FullPageEpsilon: a bbox whose four edges are all within this distance
	// of the page extent counts as "full page" and is not a useful citation.
	FullPageEpsilon float64
	// LabelBiasWeight scales the label bias against bbox area in the
	// composite score.
	LabelBiasWeight float64
	// MaxValueChars caps the normalized value representation used for
	// substring matching.
	MaxValueChars int
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		FullPageEpsilon: 0.015,
		LabelBiasWeight: 10,
		MaxValueChars:   260,
	}
}

// Page is one page's matching context: its markdown and its blocks.
type Page struct {
	Index    int
	Markdown string
	Blocks   []layout.Block
}

// Resolver implements content-based citation inference for providers that
// return no block-level citations.
type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) *Resolver {
	if cfg.FullPageEpsilon <= 0 {
		cfg.FullPageEpsilon = DefaultConfig().FullPageEpsilon
	}
	if cfg.LabelBiasWeight <= 0 {
		cfg.LabelBiasWeight = DefaultConfig().LabelBiasWeight
	}
	if cfg.MaxValueChars <= 0 {
		cfg.MaxValueChars = DefaultConfig().MaxValueChars
	}
	return &Resolver{cfg: cfg}
}

// ResolveByContent locates the page containing the value and picks the most
// specific block on it. Returns zero citations when no page matches, and the
// whole-page sentinel when a page matches but no block is usable.
func (r *Resolver) ResolveByContent(fieldPath, value string, pages []Page) []FieldCitation {
	needle := normalizeForMatch(value)
	if needle == "" {
		return nil
	}
	if len(needle) > r.cfg.MaxValueChars {
		needle = needle[:r.cfg.MaxValueChars]
	}

	for _, page := range pages {
		if !strings.Contains(normalizeForMatch(page.Markdown), needle) {
			continue
		}
		if b, ok := r.bestBlock(needle, page.Blocks); ok {
			return []FieldCitation{FromBlock(fieldPath, b)}
		}
		// Page-level evidence only.
		return []FieldCitation{{
			FieldPath:  fieldPath,
			PageIndex:  page.Index,
			BlockIndex: -1,
			Label:      constants.BlockText,
		}}
	}
	return nil
}

// bestBlock applies the filtering and scoring cascade on one page's blocks.
func (r *Resolver) bestBlock(needle string, blocks []layout.Block) (layout.Block, bool) {
	var usable []layout.Block
	var fullPageText []layout.Block
	for _, b := range blocks {
		if b.Area() <= 0 {
			continue
		}
		if r.isFullPage(b.BBox2D) {
			if b.Label == constants.BlockText {
				fullPageText = append(fullPageText, b)
			}
			continue
		}
		usable = append(usable, b)
	}

	// 1) Blocks whose own content contains the value, most specific first.
	var containing []layout.Block
	for _, b := range usable {
		if strings.Contains(normalizeForMatch(b.Content), needle) {
			containing = append(containing, b)
		}
	}
	if len(containing) > 0 {
		return r.lowestScore(containing), true
	}

	// 2) Smallest non-text structural block as a visual anchor.
	var structural []layout.Block
	for _, b := range usable {
		if b.Label != constants.BlockText {
			structural = append(structural, b)
		}
	}
	if len(structural) > 0 {
		return r.lowestScore(structural), true
	}

	// 3) A full-page text block that textually contains the value beats
	// emitting nothing: "correct page" is still evidence.
	for _, b := range fullPageText {
		if strings.Contains(normalizeForMatch(b.Content), needle) {
			return b, true
		}
	}
	return layout.Block{}, false
}

// score is labelBias*weight + area; smaller wins. Non-text regions are more
// specific visual evidence than prose, and among same-label candidates the
// smallest bounding area is the most specific hit.
func (r *Resolver) score(b layout.Block) float64 {
	return labelBias(b.Label)*r.cfg.LabelBiasWeight + b.Area()
}

func (r *Resolver) lowestScore(blocks []layout.Block) layout.Block {
	sort.SliceStable(blocks, func(i, j int) bool {
		return r.score(blocks[i]) < r.score(blocks[j])
	})
	return blocks[0]
}

func (r *Resolver) isFullPage(bbox [4]float64) bool {
	eps := r.cfg.FullPageEpsilon
	return bbox[0] <= eps && bbox[1] <= eps && bbox[2] >= 1-eps && bbox[3] >= 1-eps
}

func labelBias(label constants.BlockLabel) float64 {
	switch label {
	case constants.BlockTable:
		return 0
	case constants.BlockImage:
		return 1
	case constants.BlockFormula:
		return 2
	default:
		return 3
	}
}

// normalizeForMatch lowercases and collapses all whitespace runs to single
// spaces so matching is case- and whitespace-insensitive.
func normalizeForMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
