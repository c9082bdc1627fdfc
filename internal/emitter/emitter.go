// Package emitter renders planned artifacts into SQL text and writes them to the generated
// output directories.
package emitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/planner"
)

// Marker is the first line of every generated file. A file without it was written by hand.
const Marker = "-- auto-generated by softdelete-gen; do not edit"

// HasMarker reports whether content starts with the generated-file marker
func HasMarker(content []byte) bool {
	line, _, _ := bytes.Cut(content, []byte("\n"))
	return strings.TrimSpace(string(line)) == Marker
}

// Dialect renders the body of an artifact in one SQL dialect
type Dialect interface {
	Name() string
	Render(a planner.Artifact) (string, error)
}

// NewDialect returns the renderer for a configured dialect name
func NewDialect(name, defaultSchema string) (Dialect, error) {
	switch name {
	case config.DialectSQLServer:
		return &SQLServer{DefaultSchema: defaultSchema}, nil
	case config.DialectMySQL:
		return &MySQL{DefaultSchema: defaultSchema}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// Status is what happened to one artifact's file
type Status int

const (
	Written Status = iota
	Unchanged
	Skipped
)

func (s Status) String() string {
	switch s {
	case Written:
		return "written"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FileResult records the outcome for one artifact
type FileResult struct {
	Artifact string
	Path     string
	Status   Status
	Reason   string
}

// Result is the outcome of WriteAll, in artifact order
type Result struct {
	Files  []FileResult
	Report *diag.Report
}

// Count returns the number of files with the given status
func (r *Result) Count(status Status) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Emitter writes artifacts. Triggers and the purge procedure go to separate directories.
type Emitter struct {
	Dialect       Dialect
	TriggersDir   string
	ProceduresDir string
	Force         bool
	Logger        *logrus.Logger

	workers int
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEmitter creates an emitter from the output settings
func NewEmitter(out config.Output, logger *logrus.Logger) (*Emitter, error) {
	dialect, err := NewDialect(out.Dialect, out.DefaultSchema)
	if err != nil {
		return nil, err
	}
	return &Emitter{
		Dialect:       dialect,
		TriggersDir:   out.TriggersDir,
		ProceduresDir: out.ProceduresDir,
		Force:         out.Force,
		Logger:        logger,
		workers:       runtime.GOMAXPROCS(0),
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// WithWorkers sets the number of files written in parallel
func (e *Emitter) WithWorkers(n int) *Emitter {
	if n > 0 {
		e.workers = n
	}
	return e
}

// Render returns the complete file content of an artifact, marker header included
func (e *Emitter) Render(a planner.Artifact) (string, error) {
	body, err := e.Dialect.Render(a)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", a.Name(), err)
	}

	var b strings.Builder
	b.WriteString(Marker + "\n")
	if a.Kind().IsTrigger() {
		fmt.Fprintf(&b, "-- %s trigger on %s (%s)\n", a.Kind(), a.Table(), e.Dialect.Name())
	} else {
		fmt.Fprintf(&b, "-- purge procedure (%s)\n", e.Dialect.Name())
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String(), nil
}

// Path returns the file an artifact is written to when no other artifact shares its file name
func (e *Emitter) Path(a planner.Artifact) string {
	return filepath.Join(e.dir(a), a.FileName())
}

func (e *Emitter) dir(a planner.Artifact) string {
	if a.Kind().IsTrigger() {
		return e.TriggersDir
	}
	return e.ProceduresDir
}

// Paths returns the file of every artifact. Artifacts whose plain paths collide, such as the
// triggers of same-named tables in different schemas, get schema-qualified file names. An
// artifact that still collides with an earlier one gets an empty path.
func (e *Emitter) Paths(artifacts []planner.Artifact) []string {
	// count plain paths first, case-insensitively for case-insensitive file systems
	plain := make([]string, len(artifacts))
	counts := make(map[string]int, len(artifacts))
	for i, a := range artifacts {
		plain[i] = e.Path(a)
		counts[strings.ToLower(plain[i])]++
	}

	paths := make([]string, len(artifacts))
	seen := make(map[string]bool, len(artifacts))
	for i, a := range artifacts {
		path := plain[i]
		if counts[strings.ToLower(path)] > 1 {
			path = filepath.Join(e.dir(a), planner.QualifiedFileName(a))
		}

		key := strings.ToLower(path)
		if seen[key] {
			e.Logger.Warningf("%s resolves to %s, which an earlier artifact already uses", a.Name(), path)
			continue
		}
		seen[key] = true
		paths[i] = path
	}
	return paths
}

// WriteAll renders and writes every artifact in parallel. The first render or I/O error cancels
// the remaining writes.
func (e *Emitter) WriteAll(ctx context.Context, artifacts []planner.Artifact) (*Result, error) {
	for _, dir := range []string{e.TriggersDir, e.ProceduresDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	result := &Result{
		Files:  make([]FileResult, len(artifacts)),
		Report: diag.NewReport(),
	}

	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	paths := e.Paths(artifacts)
	for i, a := range artifacts {
		i, a := i, a
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			// a duplicate file is never written; the earlier artifact keeps it
			if paths[i] == "" {
				fr := FileResult{Artifact: a.Name(), Path: e.Path(a), Status: Skipped,
					Reason: "another artifact is written to the same file"}
				result.Files[i] = fr
				result.Report.Add(diag.Diagnostic{
					Kind:     diag.Skip,
					Table:    tableName(a),
					Artifact: a.Name(),
					Message:  fr.Reason,
					Location: fr.Path,
				})
				return nil
			}

			fr, err := e.write(a, paths[i])
			if err != nil {
				return err
			}
			result.Files[i] = fr
			if fr.Status == Skipped {
				result.Report.Add(diag.Diagnostic{
					Kind:     diag.Skip,
					Table:    tableName(a),
					Artifact: a.Name(),
					Message:  fr.Reason,
					Location: fr.Path,
				})
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	e.Logger.Infof("Emitted %d files (%d written, %d unchanged, %d skipped)",
		len(artifacts), result.Count(Written), result.Count(Unchanged), result.Count(Skipped))
	return result, nil
}

// write decides and writes one file while holding its path lock
func (e *Emitter) write(a planner.Artifact, path string) (FileResult, error) {
	fr := FileResult{Artifact: a.Name(), Path: path}

	content, err := e.Render(a)
	if err != nil {
		return fr, err
	}

	lock := e.lock(path)
	lock.Lock()
	defer lock.Unlock()

	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fr, fmt.Errorf("read %s: %w", path, err)
	case !HasMarker(existing):
		fr.Status = Skipped
		fr.Reason = "file exists without the generated marker"
		e.Logger.Warningf("Not overwriting hand-written %s", path)
		return fr, nil
	case string(existing) == content:
		fr.Status = Unchanged
		e.Logger.Debugf("%s is up to date", path)
		return fr, nil
	case !e.Force:
		fr.Status = Skipped
		fr.Reason = "already generated and force is off"
		e.Logger.Infof("Keeping existing %s (force is off)", path)
		return fr, nil
	}

	if err := writeAtomic(path, []byte(content)); err != nil {
		return fr, err
	}
	fr.Status = Written
	e.Logger.Debugf("Wrote %s", path)
	return fr, nil
}

func (e *Emitter) lock(path string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	l, ok := e.locks[path]
	if !ok {
		l = &sync.Mutex{}
		e.locks[path] = l
	}
	return l
}

// writeAtomic writes through a temp file in the same directory and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

func tableName(a planner.Artifact) string {
	if a.Table().Name == "" {
		return ""
	}
	return a.Table().String()
}
