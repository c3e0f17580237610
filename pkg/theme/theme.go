package theme

// Theme is a resolved theme whose files are available on disk.
type Theme interface {
	// Root returns the directory holding the theme's files.
	Root() string
	// Valid reports whether the theme can be used by a build.
	Valid() bool
	// Name returns the theme's name (the repository or directory name).
	Name() string
}

// Remote is a theme fetched from a code host into Root.
type Remote struct {
	Ref    *Reference
	Dir    string
	// GitRef is the ref that was actually fetched (after "latest" resolution).
	GitRef string
}

var _ Theme = &Remote{}

// NewRemote returns a Remote theme extracted into dir.
func NewRemote(ref *Reference, gitRef, dir string) *Remote {
	return &Remote{Ref: ref, Dir: dir, GitRef: gitRef}
}

func (r *Remote) Root() string { return r.Dir }

func (r *Remote) Valid() bool { return r.Ref != nil && !r.Ref.Local && r.Ref.Valid() && r.Dir != "" }

func (r *Remote) Name() string { return r.Ref.Name }

// NameWithOwner returns "owner/name".
func (r *Remote) NameWithOwner() string { return r.Ref.NameWithOwner() }

// Local is a theme read straight from a directory on disk.
type Local struct {
	Ref *Reference
}

var _ Theme = &Local{}

// NewLocal returns a Local theme for a filesystem reference.
func NewLocal(ref *Reference) *Local {
	return &Local{Ref: ref}
}

func (l *Local) Root() string { return l.Ref.Path }

func (l *Local) Valid() bool { return l.Ref != nil && l.Ref.Local && l.Ref.Valid() }

func (l *Local) Name() string { return l.Ref.Name }
