package models

import (
	"fmt"
)

// FileKey identifies one of the three page source files.
type FileKey string

const (
	FileMarkup FileKey = "index.html"
	FileStyles FileKey = "styles.css"
	FileScript FileKey = "script.js"
)

// FileKeys lists every page source file in persistence order.
var FileKeys = []FileKey{FileMarkup, FileStyles, FileScript}

// ParseFileKey validates a file name against the fixed three-file layout.
func ParseFileKey(name string) (FileKey, error) {
	switch FileKey(name) {
	case FileMarkup, FileStyles, FileScript:
		return FileKey(name), nil
	}
	return "", fmt.Errorf("unknown file %q (expected one of: %s, %s, %s)", name, FileMarkup, FileStyles, FileScript)
}

// FileSnapshot is the immutable triple of page sources for one version.
// A snapshot is only ever superseded by the next version's copy; historical
// snapshots are edited in place only through EditHistoricalFile.
type FileSnapshot struct {
	Markup string `json:"markup"`
	Styles string `json:"styles"`
	Script string `json:"script"`
}

// Get returns the content for the given file key.
func (s FileSnapshot) Get(key FileKey) string {
	switch key {
	case FileMarkup:
		return s.Markup
	case FileStyles:
		return s.Styles
	case FileScript:
		return s.Script
	}
	return ""
}

// Set returns a copy of the snapshot with the given file replaced.
func (s FileSnapshot) Set(key FileKey, content string) FileSnapshot {
	switch key {
	case FileMarkup:
		s.Markup = content
	case FileStyles:
		s.Styles = content
	case FileScript:
		s.Script = content
	}
	return s
}

// Files returns the snapshot as a file-name keyed map, in persistence layout.
func (s FileSnapshot) Files() map[FileKey]string {
	return map[FileKey]string{
		FileMarkup: s.Markup,
		FileStyles: s.Styles,
		FileScript: s.Script,
	}
}

// SnapshotFromFiles builds a snapshot from a file-name keyed map. Missing
// keys become empty files.
func SnapshotFromFiles(files map[FileKey]string) FileSnapshot {
	return FileSnapshot{
		Markup: files[FileMarkup],
		Styles: files[FileStyles],
		Script: files[FileScript],
	}
}
