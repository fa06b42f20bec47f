// Package imagery recovers capture dates from the dataset's inconsistent
// filename conventions.
package imagery

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/farmsight/farmsight/pkg/types"
)

// fallbackDate is returned when no heuristic recovers anything.
var fallbackDate = types.Date{Year: 2024}

// monthTable resolves full and abbreviated English month names.
var monthTable = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

var (
	// Canonical enhanced-dataset format: YYYY_M_D.png.
	canonicalPattern = regexp.MustCompile(`^(\d{4})_(\d{1,2})_(\d{1,2})\.png$`)

	// Bare 4-digit year starting 20, anywhere in the filename.
	yearPattern = regexp.MustCompile(`20\d{2}`)
)

// legacyPattern is one rule in the legacy filename cascade. Group order
// tells the parser how to assign day/month/year.
type legacyPattern struct {
	re *regexp.Regexp

	// order maps the capture groups to (day, month, year) positions.
	// -1 means the field is absent (day defaults to the given constant).
	dayGroup, monthGroup, yearGroup int
	defaultDay                      int
}

// Legacy patterns tried in fixed order against the lower-cased filename.
// A pattern only matches when its month token resolves via monthTable;
// otherwise the cascade continues.
var legacyPatterns = []legacyPattern{
	// <month>_<year>_<day>, the per-year folder convention
	// (e.g. "Mar_2024_05.png"). Tried before the day-less form so the
	// trailing day is not discarded.
	{re: regexp.MustCompile(`([a-z]+)_(\d{4})_(\d{1,2})`), dayGroup: 3, monthGroup: 1, yearGroup: 2},
	// <month>_<year> (e.g. "march_2024.tif")
	{re: regexp.MustCompile(`([a-z]+)_(\d{4})`), dayGroup: -1, monthGroup: 1, yearGroup: 2, defaultDay: 1},
	// <day><month>,<year> (e.g. "5mar,2024.tif")
	{re: regexp.MustCompile(`(\d+)([a-z]+),(\d{4})`), dayGroup: 1, monthGroup: 2, yearGroup: 3},
	// <day><month><year> (e.g. "5mar2024.tif")
	{re: regexp.MustCompile(`(\d+)([a-z]+)(\d{4})`), dayGroup: 1, monthGroup: 2, yearGroup: 3},
	// <month><day>_<year> (e.g. "mar5_2024.tif")
	{re: regexp.MustCompile(`([a-z]+)(\d+)_(\d{4})`), dayGroup: 2, monthGroup: 1, yearGroup: 3},
}

// ModTimeFunc reports the last-modified time of a path on the accessible
// storage, if the path exists there.
type ModTimeFunc func(path string) (time.Time, bool)

// Parser extracts best-effort capture dates from filenames. The zero value
// is usable; ModTime is optional and only consulted as the second-to-last
// fallback.
type Parser struct {
	ModTime ModTimeFunc
}

// ParseDate parses a capture date with the default parser (no storage
// access for the mtime fallback).
func ParseDate(filenameOrPath string) types.Date {
	return Parser{}.ParseDate(filenameOrPath)
}

// ParseDate recovers a sortable date tuple from a filename or path. It
// never fails: the cascade runs canonical pattern, legacy month-name
// patterns, bare-year search, storage mtime, then a fixed constant.
func (p Parser) ParseDate(filenameOrPath string) types.Date {
	filename := baseName(filenameOrPath)
	lower := strings.ToLower(filename)

	if m := canonicalPattern.FindStringSubmatch(lower); m != nil {
		return types.Date{
			Year:  atoi(m[1]),
			Month: atoi(m[2]),
			Day:   atoi(m[3]),
		}
	}

	for _, lp := range legacyPatterns {
		m := lp.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		month, ok := monthTable[m[lp.monthGroup]]
		if !ok {
			continue
		}
		day := lp.defaultDay
		if lp.dayGroup > 0 {
			day = atoi(m[lp.dayGroup])
		}
		return types.Date{Year: atoi(m[lp.yearGroup]), Month: month, Day: day}
	}

	if m := yearPattern.FindString(filename); m != "" {
		return types.Date{Year: atoi(m)}
	}

	if p.ModTime != nil {
		if mtime, ok := p.ModTime(filenameOrPath); ok {
			return types.Date{
				Year:  mtime.Year(),
				Month: int(mtime.Month()),
				Day:   mtime.Day(),
			}
		}
	}

	return fallbackDate
}

// monthNames indexes short display names by month number; index 0 unused.
var monthNames = []string{"", "Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// DisplayLabel formats a date for the annotation UI: "Mar 5, 2024" when
// fully known, "Mar 2024" without a day, "2024" with only a year.
func DisplayLabel(d types.Date) string {
	if d.Month > 0 && d.Month < len(monthNames) {
		if d.Day > 0 {
			return monthNames[d.Month] + " " + strconv.Itoa(d.Day) + ", " + strconv.Itoa(d.Year)
		}
		return monthNames[d.Month] + " " + strconv.Itoa(d.Year)
	}
	return strconv.Itoa(d.Year)
}

func baseName(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
