// Package types holds the shared data structures exchanged between the
// storage backends, the catalog, and the thumbnail cache.
package types

// CacheStats represents thumbnail cache performance statistics.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Renders uint64  `json:"renders"`
	Size    int64   `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Date is a best-effort capture date recovered from a filename.
// Month 0 means only the year is known; Day 0 means the day is unknown
// within the month. Dates order lexicographically by (Year, Month, Day),
// so year-only entries sort before any dated entry of the same year.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// Compare returns -1, 0, or 1 comparing d to other lexicographically.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return sign(d.Year - other.Year)
	case d.Month != other.Month:
		return sign(d.Month - other.Month)
	case d.Day != other.Day:
		return sign(d.Day - other.Day)
	}
	return 0
}

// Less reports whether d sorts before other.
func (d Date) Less(other Date) bool {
	return d.Compare(other) < 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// ImageDescriptor describes one capture within a farm catalog. Descriptors
// are built per listing call and never persisted.
type ImageDescriptor struct {
	// Index is the descriptor's position within its year bucket,
	// re-numbered from 0 after bucketing.
	Index int `json:"index"`

	// RelativePath is the image path below the farm directory, with
	// forward-slash separators (e.g. "2024/Mar_2024_05.png").
	RelativePath string `json:"relative_path"`

	// CaptureDate is the best-effort date recovered from the filename.
	CaptureDate Date `json:"capture_date"`

	// DisplayLabel is the human-facing date string (e.g. "Mar 5, 2024").
	DisplayLabel string `json:"display_label"`
}
