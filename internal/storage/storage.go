// Package storage holds the contract helpers shared by the dataset
// storage backends. The choice between the local filesystem and the
// remote object store is made once at startup from configuration; there
// is no runtime switching.
package storage

import (
	"sort"
	"strings"
)

// SentinelFarmID marks the dataset's placeholder directory, excluded
// from all farm listings.
const SentinelFarmID = "0"

// imageExtensions are the raster containers recognized in farm listings.
var imageExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsImageKey reports whether a path carries a recognized raster/image
// extension.
func IsImageKey(p string) bool {
	idx := strings.LastIndex(p, ".")
	if idx < 0 {
		return false
	}
	return imageExtensions[strings.ToLower(p[idx:])]
}

// NormalizeFarms drops the sentinel id and empty entries, dedupes and
// sorts.
func NormalizeFarms(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == SentinelFarmID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
