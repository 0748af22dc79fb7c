package filesys

import "strings"

// RootSector is the fixed sector holding the root directory's inode.
const RootSector = 1

// FreeMapSector is the fixed sector holding the free-sector map's inode.
const FreeMapSector = 0

// openChildDir looks up name in d and opens it as a directory, failing
// with ErrNotADirectory if it resolves to a regular file.
func (d *Dir) openChildDir(name string) (*Dir, error) {
	sector, err := d.lookupSector(name)
	if err != nil {
		return nil, err
	}
	return d.fs.OpenDir(sector)
}

// parsePath tokenises input by '/' and walks it starting from root (if
// input is absolute) or from cwd (if relative), opening and closing
// intermediate directory handles one at a time so that the directory
// about to be abandoned is only closed once its successor is already
// open — never racing a concurrent removal of the parent out from under
// an in-flight lookup. It returns the resolved parent directory (open,
// owned by the caller) and the final path component.
func (fsys *FileSystem) parsePath(cwd *Dir, input string) (parent *Dir, leaf string, err error) {
	var cur *Dir
	if strings.HasPrefix(input, "/") {
		cur, err = fsys.OpenDir(RootSector)
		if err != nil {
			return nil, "", err
		}
	} else {
		cur = cwd.Reopen()
	}

	tokens := splitPath(input)
	if len(tokens) == 0 {
		return cur, ".", nil
	}

	for _, tok := range tokens[:len(tokens)-1] {
		next, err := cur.openChildDir(tok)
		if err != nil {
			cur.Close()
			return nil, "", err
		}
		cur.Close()
		cur = next
	}

	last := tokens[len(tokens)-1]
	if len(last) > NameMax {
		cur.Close()
		return nil, "", ErrNameTooLong
	}
	return cur, last, nil
}

// splitPath breaks a path into non-empty components, so that repeated or
// trailing slashes collapse exactly like a POSIX path resolver's would.
func splitPath(input string) []string {
	parts := strings.Split(input, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
