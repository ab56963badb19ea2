package lockfile

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/theckman/go-flock"
)

// SchemaVersion is the lockfile format version written to the "version"
// field of both the single-tree and project forms.
const SchemaVersion = "1.0.0"

// Lockfile is the single-tree form: {version, rocks, entrypoints,
// layout_config}, as installed into one Tree.
type Lockfile struct {
	Version      string                 `json:"version"`
	Body         *Body                  `json:"-"`
	LayoutConfig map[string]interface{} `json:"layout_config,omitempty"`
}

type jsonLockfile struct {
	Version      string                 `json:"version"`
	Rocks        json.RawMessage        `json:"rocks,omitempty"`
	Entrypoints  []string               `json:"entrypoints,omitempty"`
	LayoutConfig map[string]interface{} `json:"layout_config,omitempty"`
}

// MarshalJSON flattens Body's rocks/entrypoints into the top-level object.
func (l *Lockfile) MarshalJSON() ([]byte, error) {
	body := l.Body
	if body == nil {
		body = NewBody()
	}
	bb, err := body.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var jb jsonBody
	if err := json.Unmarshal(bb, &jb); err != nil {
		return nil, err
	}
	return json.Marshal(jsonLockfile{
		Version:      l.Version,
		Rocks:        jb.Rocks,
		Entrypoints:  jb.Entrypoints,
		LayoutConfig: l.LayoutConfig,
	})
}

func (l *Lockfile) UnmarshalJSON(data []byte) error {
	var j jsonLockfile
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "decoding lockfile")
	}
	l.Version = j.Version
	l.LayoutConfig = j.LayoutConfig

	bodyJSON, err := json.Marshal(jsonBody{Rocks: j.Rocks, Entrypoints: j.Entrypoints})
	if err != nil {
		return err
	}
	l.Body = NewBody()
	return l.Body.UnmarshalJSON(bodyJSON)
}

// ProjectLockfile is the project form persisted as lux.lock: up to three
// independent Bodies, one per dependency class. Empty bodies are omitted
// from serialization.
type ProjectLockfile struct {
	Version           string `json:"version"`
	Dependencies      *Body  `json:"dependencies,omitempty"`
	TestDependencies  *Body  `json:"test_dependencies,omitempty"`
	BuildDependencies *Body  `json:"build_dependencies,omitempty"`
}

// NewProjectLockfile returns an empty ProjectLockfile ready for writing.
func NewProjectLockfile() *ProjectLockfile {
	return &ProjectLockfile{
		Version:           SchemaVersion,
		Dependencies:      NewBody(),
		TestDependencies:  NewBody(),
		BuildDependencies: NewBody(),
	}
}

type jsonProjectLockfile struct {
	Version           string          `json:"version"`
	Dependencies      json.RawMessage `json:"dependencies,omitempty"`
	TestDependencies  json.RawMessage `json:"test_dependencies,omitempty"`
	BuildDependencies json.RawMessage `json:"build_dependencies,omitempty"`
}

func (p *ProjectLockfile) MarshalJSON() ([]byte, error) {
	j := jsonProjectLockfile{Version: p.Version}

	if !p.Dependencies.IsEmpty() {
		b, err := p.Dependencies.MarshalJSON()
		if err != nil {
			return nil, err
		}
		j.Dependencies = b
	}
	if !p.TestDependencies.IsEmpty() {
		b, err := p.TestDependencies.MarshalJSON()
		if err != nil {
			return nil, err
		}
		j.TestDependencies = b
	}
	if !p.BuildDependencies.IsEmpty() {
		b, err := p.BuildDependencies.MarshalJSON()
		if err != nil {
			return nil, err
		}
		j.BuildDependencies = b
	}
	return json.Marshal(j)
}

func (p *ProjectLockfile) UnmarshalJSON(data []byte) error {
	var j jsonProjectLockfile
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "decoding project lockfile")
	}
	p.Version = j.Version

	decodeOrEmpty := func(raw json.RawMessage) (*Body, error) {
		b := NewBody()
		if len(raw) == 0 {
			return b, nil
		}
		if err := b.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return b, nil
	}

	var err error
	if p.Dependencies, err = decodeOrEmpty(j.Dependencies); err != nil {
		return err
	}
	if p.TestDependencies, err = decodeOrEmpty(j.TestDependencies); err != nil {
		return err
	}
	if p.BuildDependencies, err = decodeOrEmpty(j.BuildDependencies); err != nil {
		return err
	}
	return nil
}

// ReadHandle is a read-only view of a persisted ProjectLockfile. Mutation
// is only reachable through a WriteSession obtained from Writer().
type ReadHandle struct {
	path string
	data *ProjectLockfile
}

// Open reads path, or returns an empty ProjectLockfile if it doesn't yet
// exist (first creation writes an empty skeleton, ignoring EEXIST so a
// concurrent creator wins harmlessly).
func Open(path string) (*ReadHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if werr := writeSkeleton(path); werr != nil {
				return nil, werr
			}
			return &ReadHandle{path: path, data: NewProjectLockfile()}, nil
		}
		return nil, errors.Wrapf(err, "opening lockfile %s", path)
	}
	defer f.Close()

	pl := &ProjectLockfile{}
	if err := json.NewDecoder(f).Decode(pl); err != nil {
		return nil, errors.Wrapf(err, "parsing lockfile %s", path)
	}
	return &ReadHandle{path: path, data: pl}, nil
}

func writeSkeleton(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrapf(err, "creating lockfile skeleton %s", path)
	}
	defer f.Close()

	skeleton := NewProjectLockfile()
	return writePretty(f, skeleton)
}

func writePretty(w *os.File, pl *ProjectLockfile) error {
	b, err := json.Marshal(pl)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, b, "", "  "); err != nil {
		return err
	}
	_, err = w.Write(pretty.Bytes())
	return err
}

// Data returns the read-only ProjectLockfile snapshot.
func (h *ReadHandle) Data() *ProjectLockfile { return h.data }

// WriteSessionOption configures a WriteSession.
type WriteSessionOption func(*WriteSession)

// WithoutFileLock disables the advisory cross-process file lock a write
// session takes by default. Nothing else serializes two processes
// mutating the same lockfile; callers opting out must do so themselves.
func WithoutFileLock() WriteSessionOption {
	return func(w *WriteSession) { w.useLock = false }
}

// WriteSession is the mutable handle obtained from a ReadHandle. Only a
// WriteSession can mutate a lockfile; flushing writes it back to disk.
// Callers MUST call Close (typically via defer) exactly once.
type WriteSession struct {
	handle   *ReadHandle
	useLock  bool
	flock    *flock.Flock
	flushed  bool
}

// Writer opens a WriteSession over h. By default it takes an advisory
// file lock at <path>.lock so that two cooperating processes serialize;
// pass WithoutFileLock() to opt out.
func (h *ReadHandle) Writer(opts ...WriteSessionOption) (*WriteSession, error) {
	w := &WriteSession{handle: h, useLock: true}
	for _, o := range opts {
		o(w)
	}

	if w.useLock {
		w.flock = flock.NewFlock(h.path + ".lock")
		if err := w.flock.Lock(); err != nil {
			return nil, errors.Wrapf(err, "locking %s", h.path)
		}
	}
	return w, nil
}

// Dependencies, TestDependencies, and BuildDependencies return the three
// mutable bodies, one per dependency class.
func (w *WriteSession) Dependencies() *Body      { return w.handle.data.Dependencies }
func (w *WriteSession) TestDependencies() *Body  { return w.handle.data.TestDependencies }
func (w *WriteSession) BuildDependencies() *Body { return w.handle.data.BuildDependencies }

// AddEntrypoint records pkg as an entrypoint in body (idempotent).
func AddEntrypoint(body *Body, pkg *LocalPackage) {
	body.Put(pkg)
	for _, id := range body.Entrypoints {
		if id == pkg.ID {
			return
		}
	}
	body.Entrypoints = append(body.Entrypoints, pkg.ID)
}

// AddDependency records that parent depends on child, appending child's id
// to parent's Dependencies if not already present. Both ids must already
// have entries in body.
func AddDependency(body *Body, parent, child string) error {
	p, ok := body.Get(parent)
	if !ok {
		return errors.Errorf("add-dependency: parent %q not found", parent)
	}
	if _, ok := body.Get(child); !ok {
		return errors.Errorf("add-dependency: child %q not found", child)
	}
	for _, id := range p.Dependencies {
		if id == child {
			return nil
		}
	}
	p.Dependencies = append(p.Dependencies, child)
	return nil
}

// Flush writes the lockfile back to disk. It is safe to call more than
// once; subsequent calls after the first are no-ops.
func (w *WriteSession) Flush() error {
	if w.flushed {
		return nil
	}
	f, err := os.OpenFile(w.handle.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "writing lockfile %s", w.handle.path)
	}
	defer f.Close()

	if err := writePretty(f, w.handle.data); err != nil {
		return errors.Wrapf(err, "encoding lockfile %s", w.handle.path)
	}
	w.flushed = true
	return nil
}

// Close flushes (if not already flushed) and releases the file lock.
// Callers that want to observe a flush error directly should call Flush
// first; Close's error is often discarded behind a defer.
func (w *WriteSession) Close() error {
	flushErr := w.Flush()
	if w.flock != nil {
		if err := w.flock.Unlock(); err != nil && flushErr == nil {
			return errors.Wrap(err, "releasing lockfile lock")
		}
	}
	return flushErr
}
