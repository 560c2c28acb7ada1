package storage

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/semmidev/logship/internal/domain"
)

// MatchPattern reports whether name matches a glob pattern where * matches
// any run of characters and ? exactly one. Matching ignores case.
func MatchPattern(name, pattern string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `\?`, ".")
	return regexp.Compile("(?i)^" + expr + "$")
}

// objectBase returns the last segment of an object key.
func objectBase(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

func sortByTime(files []*domain.BackupFile, ascending bool) {
	sort.SliceStable(files, func(i, j int) bool {
		if ascending {
			return files[i].LastModified.Before(files[j].LastModified)
		}
		return files[i].LastModified.After(files[j].LastModified)
	})
}

func notBefore(t, minAge time.Time) bool {
	return !t.Before(minAge)
}

// folderPrefix turns a folder path into an object key prefix ending in "/",
// so that "logs/sales" does not also match "logs/sales_archive".
func folderPrefix(key string) string {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// directChild reports whether key names an object directly inside prefix,
// matching what a folder listing on disk returns.
func directChild(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	return ok && rest != "" && !strings.Contains(rest, "/")
}
