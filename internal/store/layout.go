package store

import (
	"path/filepath"
	"strconv"
	"strings"
)

// On-disk layout, one directory per session:
//
//	<root>/<sessionId>/session.json
//	<root>/<sessionId>/versions/<n>/index.html
//	<root>/<sessionId>/versions/<n>/styles.css
//	<root>/<sessionId>/versions/<n>/script.js
//	<root>/<sessionId>/versions/<n>/messages.json
//	<root>/<sessionId>/versions/<n>/context.json
//	<root>/<sessionId>/versions/<n>/images.json    (collaborator-owned)
//	<root>/<sessionId>/versions/<n>/<uuid>.png     (collaborator-owned)
const (
	sessionFileName = "session.json"
	versionsDirName = "versions"
	messagesLogName = "messages.json"
	contextLogName  = "context.json"
)

// SessionDir returns the directory for one session under root.
func SessionDir(root, id string) string {
	return filepath.Join(root, sanitizeID(id))
}

// VersionDir returns the snapshot directory for one version. Exported for
// collaborators that own auxiliary files inside version directories (image
// metadata and assets).
func VersionDir(root, id string, version int) string {
	return filepath.Join(SessionDir(root, id), versionsDirName, strconv.Itoa(version))
}

// sanitizeID strips every byte that is not safe in a folder name. Session
// ids are UUIDs in practice, so this only matters for externally supplied
// ids arriving through clone/get-or-create.
func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Store) sessionDir(id string) string {
	return SessionDir(s.root, id)
}

func (s *Store) sessionFile(id string) string {
	return filepath.Join(s.sessionDir(id), sessionFileName)
}

func (s *Store) versionDir(id string, version int) string {
	return VersionDir(s.root, id, version)
}
