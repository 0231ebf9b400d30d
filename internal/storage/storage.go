// Package storage persists uploaded media files and hands back the URL
// they are served under.
package storage

import (
	"context"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// URLPrefix is the path under which locally stored uploads are served.
const URLPrefix = "/uploads"

// Store saves and removes uploaded files.
type Store interface {
	// Save writes body under name and returns the public URL of the file.
	Save(ctx context.Context, name string, body io.Reader) (string, error)
	// Remove deletes the file saved under url. Removing a file that does
	// not exist is not an error.
	Remove(ctx context.Context, url string) error
}

// unsafeRuns matches whitespace and characters that are reserved in URL paths.
var unsafeRuns = regexp.MustCompile(`[\s#?%&+;=]+`)

// SanitizeName builds the stored file name for an upload:
// "<unix millis>-<original base name>", with runs of whitespace and URL
// reserved characters replaced by '-'. The result can be used in a URL path
// as is.
func SanitizeName(original string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	base = unsafeRuns.ReplaceAllString(base, "-")
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + base
}
