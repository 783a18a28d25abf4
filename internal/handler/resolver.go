// Package handler locates and loads JavaScript handlers from a source tree.
//
// A handler reference has the form "module.function": "handler.handler" names
// the function exported as "handler" by handler.js. Modules are CommonJS
// files evaluated by goja; each Load builds a fresh runtime so edits to the
// handler or to the sibling modules it requires are picked up on the next
// invocation. Compiled programs are cached per Resolver and invalidated when
// the file digest changes.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/serverledge-faas/localfaas/utils"
)

// Reference is a located handler: an entry module and the function it exports.
type Reference struct {
	// Ref is the reference as requested, e.g. "handler.handler".
	Ref      string
	File     string
	Function string
	// SourceDir and Module are the Locate inputs, kept so the reference can
	// be located again in another process.
	SourceDir string
	Module    string
}

func (r Reference) String() string {
	return r.Ref
}

// Dir is the directory holding the entry module.
func (r Reference) Dir() string {
	return filepath.Dir(r.File)
}

type compiledModule struct {
	digest  string
	program *goja.Program
	// set for .json modules, parsed again in every runtime
	isJSON bool
	source string
}

// Resolver owns the module search path and the registry of compiled modules.
// It is safe for concurrent use.
type Resolver struct {
	mu          sync.Mutex
	searchPaths []string
	programs    map[string]*compiledModule
	console     io.Writer
}

type Option func(*Resolver)

// WithConsole sets where console.* output of handlers is written.
func WithConsole(w io.Writer) Option {
	return func(r *Resolver) {
		r.console = w
	}
}

// WithSearchPaths seeds the module search path.
func WithSearchPaths(dirs ...string) Option {
	return func(r *Resolver) {
		r.addSearchPaths(dirs)
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		programs: make(map[string]*compiledModule),
		console:  os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSearchPath appends directories to the module search path. Directories
// already present are ignored.
func (r *Resolver) AddSearchPath(dirs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addSearchPaths(dirs)
}

func (r *Resolver) addSearchPaths(dirs []string) {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		known := false
		for _, p := range r.searchPaths {
			if p == d {
				known = true
				break
			}
		}
		if !known {
			r.searchPaths = append(r.searchPaths, d)
		}
	}
}

// SearchPaths returns a copy of the module search path.
func (r *Resolver) SearchPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.searchPaths...)
}

// Locate maps a handler reference to its entry module under sourceDir.
// modulePath is the path of the handler source file relative to sourceDir;
// only its directory is used.
func Locate(sourceDir, modulePath, handlerRef string) (Reference, error) {
	idx := strings.LastIndex(handlerRef, ".")
	if idx <= 0 || idx == len(handlerRef)-1 {
		return Reference{}, resolutionErr(handlerRef, "reference must have the form module.function", nil)
	}
	file := strings.ReplaceAll(handlerRef[:idx], ".", "/")
	fn := handlerRef[idx+1:]

	base, err := filepath.Abs(sourceDir)
	if err != nil {
		return Reference{}, resolutionErr(handlerRef, "invalid source directory", err)
	}
	dir := base
	if modulePath != "" {
		dir = filepath.Join(base, modulePath)
		if !strings.HasSuffix(modulePath, "/") {
			dir = filepath.Dir(dir)
		}
	}

	entry := filepath.Join(dir, filepath.FromSlash(file)+".js")
	if rel, err := filepath.Rel(base, entry); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Reference{}, resolutionErr(handlerRef, "module is outside the source directory", nil)
	}

	info, err := os.Stat(entry)
	if err != nil {
		return Reference{}, resolutionErr(handlerRef, "module not found", err)
	}
	if info.IsDir() {
		return Reference{}, resolutionErr(handlerRef, "module is a directory", nil)
	}

	return Reference{Ref: handlerRef, File: entry, Function: fn, SourceDir: base, Module: modulePath}, nil
}

// Resolve locates and loads a handler in one step.
func (r *Resolver) Resolve(sourceDir, modulePath, handlerRef string) (*Handler, error) {
	ref, err := Locate(sourceDir, modulePath, handlerRef)
	if err != nil {
		return nil, err
	}
	return r.Load(ref)
}

// Load evaluates the entry module in a fresh runtime and returns the
// exported function. Bare requires are looked up in extra, then in the
// module directory, then in the resolver search path; extra only applies to
// this load.
func (r *Resolver) Load(ref Reference, extra ...string) (*Handler, error) {
	return r.LoadContext(context.Background(), ref, extra...)
}

// LoadContext is Load with the top-level evaluation of the modules
// interrupted when ctx ends. The ResolutionError then wraps ctx.Err().
func (r *Resolver) LoadContext(ctx context.Context, ref Reference, extra ...string) (*Handler, error) {
	if err := ctx.Err(); err != nil {
		return nil, resolutionErr(ref.Ref, "module evaluation interrupted", err)
	}

	vm := goja.New()
	paths := append(append([]string{}, extra...), ref.Dir())
	l := newLoader(r, vm, mergePaths(paths, r.SearchPaths()))
	if err := installConsole(vm, r.console); err != nil {
		return nil, resolutionErr(ref.Ref, "cannot set up runtime", err)
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	exports, err := l.load(ref.File)
	if !stop() && ctx.Err() != nil {
		return nil, resolutionErr(ref.Ref, "module evaluation interrupted", ctx.Err())
	}
	if err != nil {
		return nil, resolutionErr(ref.Ref, "module evaluation failed", err)
	}

	var member goja.Value
	if exports != nil && !goja.IsUndefined(exports) && !goja.IsNull(exports) {
		member = exports.ToObject(vm).Get(ref.Function)
	}
	fn, ok := goja.AssertFunction(member)
	if !ok {
		return nil, resolutionErr(ref.Ref, fmt.Sprintf("'%s' is not a function exported by %s", ref.Function, filepath.Base(ref.File)), nil)
	}

	return &Handler{Ref: ref, vm: vm, fn: fn}, nil
}

// mergePaths concatenates the lists, dropping empty and repeated entries.
func mergePaths(lists ...[]string) []string {
	var merged []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, d := range list {
			if d == "" {
				continue
			}
			if abs, err := filepath.Abs(d); err == nil {
				d = abs
			}
			if !seen[d] {
				seen[d] = true
				merged = append(merged, d)
			}
		}
	}
	return merged
}

// compile returns the cached program for path, recompiling it when the file
// content changed since the last load.
func (r *Resolver) compile(path string) (*compiledModule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	digest := utils.BytesDigest(content)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.programs[path]; ok && m.digest == digest {
		return m, nil
	}

	m := &compiledModule{digest: digest}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if !json.Valid(content) {
			return nil, fmt.Errorf("%s: invalid JSON", path)
		}
		m.isJSON = true
		m.source = string(content)
	} else {
		src := "(function(exports, require, module, __filename, __dirname) {" + string(content) + "\n})"
		m.program, err = goja.Compile(path, src, false)
		if err != nil {
			return nil, err
		}
	}
	r.programs[path] = m
	return m, nil
}

// Cached reports how many compiled modules the resolver holds.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.programs)
}
