// Package naming allocates collision-free server-side file names.
//
// Stored names have the shape <PREFIX><NNN>[.ext], where PREFIX is derived from
// the file extension (TS text, AS audio, VS video, FS everything else) and NNN
// is the smallest positive id not already taken in the target directory,
// zero-padded to at least three digits.
package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Category prefixes.
const (
	PrefixText  = "TS"
	PrefixAudio = "AS"
	PrefixVideo = "VS"
	PrefixOther = "FS"
)

// minDigits is the minimum zero-padded width of an allocated id.
const minDigits = 3

var (
	textExts = extSet(".txt", ".md", ".csv", ".json", ".xml", ".html", ".htm",
		".py", ".java", ".c", ".cpp", ".h", ".hpp", ".log")
	audioExts = extSet(".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".wma")
	videoExts = extSet(".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".webm", ".m4v")

	allocatedPattern = regexp.MustCompile(`(?i)^(TS|AS|VS|FS)\d{3,}(\.[^./\\]+)?$`)
)

func extSet(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
}

// PrefixFor maps an extension (with leading dot, any case) to its category
// prefix. An empty or unknown extension maps to PrefixOther.
func PrefixFor(ext string) string {
	ext = strings.ToLower(ext)
	if _, ok := textExts[ext]; ok {
		return PrefixText
	}
	if _, ok := audioExts[ext]; ok {
		return PrefixAudio
	}
	if _, ok := videoExts[ext]; ok {
		return PrefixVideo
	}
	return PrefixOther
}

// IsAllocated reports whether name already looks like a server-allocated name.
// Such names are kept verbatim when a client uploads them.
func IsAllocated(name string) bool {
	return allocatedPattern.MatchString(name)
}

// NextID returns the smallest positive integer not present in used.
func NextID(used map[int]struct{}) int {
	n := 1
	for {
		if _, taken := used[n]; !taken {
			return n
		}
		n++
	}
}

// Format renders prefix, id and extension, padding the id to at least three
// digits: Format("TS", 7, ".txt") == "TS007.txt", Format("FS", 1234, "") == "FS1234".
func Format(prefix string, n int, ext string) string {
	return fmt.Sprintf("%s%0*d%s", prefix, minDigits, n, ext)
}

// UsedIDs collects the ids of every entry in dir named <prefix><digits>[.ext],
// matched case-insensitively and regardless of extension. A missing directory
// yields an empty set.
func UsedIDs(dir, prefix string) (map[int]struct{}, error) {
	used := make(map[int]struct{})

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return used, nil
		}
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	pattern, err := prefixPattern(prefix)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Too many digits to fit an int; it can never collide with NextID.
			continue
		}
		used[n] = struct{}{}
	}

	return used, nil
}

// Allocate picks the next free name for prefix in dir and appends ext verbatim.
func Allocate(dir, prefix, ext string) (string, error) {
	used, err := UsedIDs(dir, prefix)
	if err != nil {
		return "", err
	}
	return Format(prefix, NextID(used), ext), nil
}

func prefixPattern(prefix string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`(?i)^` + regexp.QuoteMeta(prefix) + `(\d{3,})(\.[^./\\]+)?$`)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix %q: %w", prefix, err)
	}
	return re, nil
}
