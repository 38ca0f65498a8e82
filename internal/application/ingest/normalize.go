package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	copyrightFooter = regexp.MustCompile(`Copyright © 20\d\d by The Regents of the University of California ?`)
	lineEndings     = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

const runningFooter = "Oral History Center, The Bancroft Library, University of California, Berkeley "

// Normalize turns raw transcript bytes into the text that is hashed and split.
// Invalid UTF-8 is dropped, line endings become \n and the page footers the
// Oral History Center prints on every page are removed.
func Normalize(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	s = lineEndings.Replace(s)
	s = strings.ReplaceAll(s, runningFooter, "")
	s = copyrightFooter.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ContentHash is the hex sha256 of normalized text.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
