// Package changeset turns patches and file lists into the files of a review.
package changeset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/sprite-ai/crev/internal/engine"
)

// File is one reviewable file of a change set.
type File struct {
	Path      string
	OldPath   string
	IsNew     bool
	IsRenamed bool
	Language  string
	Source    string
	Added     int
	Deleted   int
	// Changed holds the post-image line numbers the patch added, ascending.
	// Empty for files loaded without a patch.
	Changed []int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s → %s", f.OldPath, f.Path)
	}
	return f.Path
}

// Touches reports whether the patch added line. File level findings (line 0)
// and files loaded without a patch touch every line.
func (f *File) Touches(line int) bool {
	if line <= 0 || f.Changed == nil {
		return true
	}
	i := sort.SearchInts(f.Changed, line)
	return i < len(f.Changed) && f.Changed[i] == line
}

// Ignored records a file left out of the review and why.
type Ignored struct {
	Path   string
	Reason string
}

// Set is the input of one review: the commit it came from and its files.
type Set struct {
	Commit  string
	Message string
	Files   []File
	Ignored []Ignored
}

// Stats returns aggregate statistics.
func (s *Set) Stats() (files, added, deleted int) {
	files = len(s.Files)
	for _, f := range s.Files {
		added += f.Added
		deleted += f.Deleted
	}
	return
}

// File returns the file at path.
func (s *Set) File(p string) (*File, bool) {
	for i := range s.Files {
		if s.Files[i].Path == p {
			return &s.Files[i], true
		}
	}
	return nil, false
}

// Inputs converts the set into review inputs.
func (s *Set) Inputs() []engine.Input {
	out := make([]engine.Input, len(s.Files))
	for i, f := range s.Files {
		out[i] = engine.Input{
			Path:     f.Path,
			Revision: s.Commit,
			Source:   f.Source,
			Language: f.Language,
		}
	}
	return out
}

// Reviewable reports whether a path names a C source or header file.
func Reviewable(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".c", ".h":
		return true
	}
	return false
}

// FromPatch parses a unified diff or a git format-patch mail. Post-image
// sources are read from root, the tree with the change applied; new files
// missing from root are rebuilt from the patch itself. root may be nil.
//
// Deleted files, binary files and files that are not C sources are recorded
// in Ignored.
func FromPatch(r io.Reader, root fs.FS) (*Set, error) {
	parsed, preamble, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}

	set := &Set{}
	if hdr, err := gitdiff.ParsePatchHeader(preamble); err == nil {
		set.Commit = hdr.SHA
		set.Message = hdr.Message()
	}

	for _, f := range parsed {
		name := f.NewName
		if name == "" {
			name = f.OldName
		}
		switch {
		case f.IsDelete:
			set.Ignored = append(set.Ignored, Ignored{Path: f.OldName, Reason: "deleted"})
			continue
		case f.IsBinary:
			set.Ignored = append(set.Ignored, Ignored{Path: name, Reason: "binary"})
			continue
		case !Reviewable(name):
			set.Ignored = append(set.Ignored, Ignored{Path: name, Reason: "not a C source file"})
			continue
		}

		src, err := postImage(f, root)
		if err != nil {
			set.Ignored = append(set.Ignored, Ignored{Path: name, Reason: err.Error()})
			continue
		}

		cf := File{
			Path:      name,
			OldPath:   f.OldName,
			IsNew:     f.IsNew,
			IsRenamed: f.IsRename,
			Language:  DetectLanguage(name),
			Source:    src,
			Changed:   []int{},
		}
		for _, frag := range f.TextFragments {
			line := int(frag.NewPosition)
			for _, l := range frag.Lines {
				switch l.Op {
				case gitdiff.OpAdd:
					cf.Added++
					cf.Changed = append(cf.Changed, line)
					line++
				case gitdiff.OpDelete:
					cf.Deleted++
				default:
					line++
				}
			}
		}
		set.Files = append(set.Files, cf)
	}
	return set, nil
}

var errNoPostImage = errors.New("post-image not available")

func postImage(f *gitdiff.File, root fs.FS) (string, error) {
	if root != nil {
		data, err := fs.ReadFile(root, f.NewName)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	if !f.IsNew {
		return "", errNoPostImage
	}
	var buf bytes.Buffer
	if err := gitdiff.Apply(&buf, bytes.NewReader(nil), f); err != nil {
		return "", fmt.Errorf("rebuilding new file: %w", err)
	}
	return buf.String(), nil
}

// FromPaths loads the named files and the C sources below the named
// directories. Explicitly named files that are not C sources are ignored.
func FromPaths(fsys fs.FS, paths []string) (*Set, error) {
	set := &Set{}
	seen := make(map[string]bool)
	add := func(p string) error {
		if seen[p] {
			return nil
		}
		seen[p] = true
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		set.Files = append(set.Files, File{
			Path:     p,
			Language: DetectLanguage(p),
			Source:   string(data),
		})
		return nil
	}

	for _, p := range paths {
		p = path.Clean(strings.TrimPrefix(p, "./"))
		info, err := fs.Stat(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		if !info.IsDir() {
			if !Reviewable(p) {
				set.Ignored = append(set.Ignored, Ignored{Path: p, Reason: "not a C source file"})
				continue
			}
			if err := add(p); err != nil {
				return nil, fmt.Errorf("loading %s: %w", p, err)
			}
			continue
		}
		err = fs.WalkDir(fsys, p, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if fp != p && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !Reviewable(fp) {
				return nil
			}
			return add(fp)
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	return set, nil
}
