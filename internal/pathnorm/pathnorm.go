// Package pathnorm turns storage keys into archive entry names.
//
// Every name it produces is relative, non-empty and free of ".." segments,
// whatever the input looks like. Names derived relative to a workdir also have
// reserved characters replaced and are at most MaxSegments deep; without a
// workdir the key is kept as is apart from its separators.
package pathnorm

import (
	"path"
	"strconv"
	"strings"
)

const (
	MaxSegments     = 8
	PlaceholderName = "file"
)

var reservedReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"|", "_",
	"?", "_",
	"*", "_",
	"\x00", "_",
)

// ComputeEntryPath returns the archive entry name of storageKey relative to
// workdir. When workdir does not occur in the key on segment boundaries, the
// last two segments of the key are used instead.
func ComputeEntryPath(workdir, storageKey string) string {
	key := normalizeSeparators(storageKey)
	wd := strings.Trim(normalizeSeparators(workdir), "/")

	if wd == "" {
		return orPlaceholder(strings.Join(cleanSegments(key), "/"))
	}

	rest, ok := cutWorkdir(key, wd)
	if !ok {
		return mismatchFallback(key)
	}

	rest = strings.TrimLeft(rest, "/")
	if rest == "" {
		return orPlaceholder(Sanitize(lastSegment(key)))
	}

	return orLastSegment(Sanitize(rest), key)
}

// Sanitize replaces reserved characters, drops empty, "." and ".." segments
// and keeps only the last MaxSegments segments. It may return "".
func Sanitize(p string) string {
	kept := cleanSegments(reservedReplacer.Replace(p))
	if len(kept) > MaxSegments {
		kept = kept[len(kept)-MaxSegments:]
	}
	return strings.Join(kept, "/")
}

// cleanSegments splits p on either separator and drops empty, "." and ".."
// segments.
func cleanSegments(p string) []string {
	segs := strings.Split(normalizeSeparators(p), "/")
	kept := segs[:0]
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func normalizeSeparators(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// cutWorkdir finds the first occurrence of wd in key that starts and ends on a
// separator (or the key boundaries) and returns what follows it.
func cutWorkdir(key, wd string) (string, bool) {
	for from := 0; from <= len(key)-len(wd); {
		i := strings.Index(key[from:], wd)
		if i < 0 {
			return "", false
		}
		i += from
		end := i + len(wd)

		startOK := i == 0 || key[i-1] == '/'
		endOK := end == len(key) || key[end] == '/'
		if startOK && endOK {
			return key[end:], true
		}
		from = i + 1
	}
	return "", false
}

func mismatchFallback(key string) string {
	segs := segments(key)
	switch len(segs) {
	case 0:
		return PlaceholderName
	case 1:
		return orPlaceholder(Sanitize(segs[0]))
	default:
		n := len(segs)
		return orPlaceholder(Sanitize(segs[n-2] + "/" + segs[n-1]))
	}
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lastSegment(p string) string {
	segs := segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

func orLastSegment(name, key string) string {
	if name != "" {
		return name
	}
	return orPlaceholder(Sanitize(lastSegment(key)))
}

func orPlaceholder(name string) string {
	if name == "" {
		return PlaceholderName
	}
	return name
}

// NameSet hands out entry names that are unique within one archive.
type NameSet struct {
	taken map[string]bool
}

func NewNameSet() *NameSet {
	return &NameSet{taken: make(map[string]bool)}
}

// Claim returns name, or name with a " (n)" suffix before its extension when
// name was already claimed.
func (s *NameSet) Claim(name string) string {
	if !s.taken[name] {
		s.taken[name] = true
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" || strings.HasSuffix(base, "/") {
		base, ext = name, ""
	}
	for n := 1; ; n++ {
		candidate := base + " (" + strconv.Itoa(n) + ")" + ext
		if !s.taken[candidate] {
			s.taken[candidate] = true
			return candidate
		}
	}
}
