package pipeline

import "encoding/json"

// Timing records wall-clock milliseconds per pipeline phase. Phases a run
// never reached stay zero; a failed run keeps whatever it accumulated.
type Timing struct {
	OcrMs       int64 `json:"ocrMs"`
	LlmMs       int64 `json:"llmMs"`
	CitationMs  int64 `json:"citationMs"`
	PersistedMs int64 `json:"persistedMs"`
	TotalMs     int64 `json:"totalMs"`
}

// Stats holds derived throughput figures for a completed run.
type Stats struct {
	PageCount      int     `json:"pageCount"`
	PagesPerSecond float64 `json:"pagesPerSecond"`
	SecondsPerPage float64 `json:"secondsPerPage"`
}

// minElapsedSeconds floors the elapsed time so sub-millisecond completions
// still yield a finite rate.
const minElapsedSeconds = 0.001

// ComputeStats derives throughput from the total time. Both divisors are
// clamped: elapsed time to minElapsedSeconds, page count to one. A zero-page
// run therefore reports secondsPerPage equal to its total seconds.
func ComputeStats(pageCount int, totalMs int64) Stats {
	s := Stats{PageCount: pageCount}
	seconds := float64(totalMs) / 1000
	if seconds < minElapsedSeconds {
		seconds = minElapsedSeconds
	}
	pages := pageCount
	if pages < 1 {
		pages = 1
	}
	s.PagesPerSecond = float64(pageCount) / seconds
	s.SecondsPerPage = seconds / float64(pages)
	return s
}

func (t Timing) JSON() string {
	b, _ := json.Marshal(t)
	return string(b)
}

func (s Stats) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}
