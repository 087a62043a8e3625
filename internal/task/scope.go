package task

import "strings"

// Overlaps returns the conflicts between two scopes, empty when disjoint.
// Files conflict on exact match, tags on exact match, directories when one
// contains the other in either direction.
func Overlaps(a, b Scope) []string {
	var conflicts []string

	bFiles := make(map[string]struct{}, len(b.Files))
	for _, f := range b.Files {
		bFiles[f] = struct{}{}
	}
	for _, f := range a.Files {
		if _, ok := bFiles[f]; ok {
			conflicts = append(conflicts, "file:"+f)
		}
	}

	for _, da := range a.Directories {
		na := normalizeDir(da)
		for _, db := range b.Directories {
			nb := normalizeDir(db)
			if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
				conflicts = append(conflicts, "dir:"+da+" <-> "+db)
			}
		}
	}

	bTags := make(map[string]struct{}, len(b.Tags))
	for _, t := range b.Tags {
		bTags[t] = struct{}{}
	}
	for _, t := range a.Tags {
		if _, ok := bTags[t]; ok {
			conflicts = append(conflicts, "tag:"+t)
		}
	}

	return conflicts
}

// normalizeDir forces forward slashes and exactly one trailing slash so
// prefix checks compare whole path segments. "src" must not match "srcs".
func normalizeDir(dir string) string {
	return strings.TrimRight(strings.ReplaceAll(dir, "\\", "/"), "/") + "/"
}
