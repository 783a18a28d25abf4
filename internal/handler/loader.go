package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

var errModuleNotFound = errors.New("cannot find module")

// loader evaluates CommonJS modules inside one runtime. Module instances are
// cached per loader, so a module required twice during one load is
// evaluated once and cycles see partially populated exports.
type loader struct {
	resolver    *Resolver
	vm          *goja.Runtime
	searchPaths []string
	modules     map[string]*goja.Object
}

func newLoader(r *Resolver, vm *goja.Runtime, searchPaths []string) *loader {
	return &loader{
		resolver:    r,
		vm:          vm,
		searchPaths: searchPaths,
		modules:     make(map[string]*goja.Object),
	}
}

// load evaluates the module at path (if needed) and returns its exports.
func (l *loader) load(path string) (goja.Value, error) {
	if m, ok := l.modules[path]; ok {
		return m.Get("exports"), nil
	}

	compiled, err := l.resolver.compile(path)
	if err != nil {
		return nil, err
	}

	module := l.vm.NewObject()
	exports := l.vm.NewObject()
	_ = module.Set("id", path)
	_ = module.Set("filename", path)
	_ = module.Set("exports", exports)
	l.modules[path] = module

	if compiled.isJSON {
		data, err := l.parseJSON(compiled.source)
		if err != nil {
			delete(l.modules, path)
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		_ = module.Set("exports", data)
		return data, nil
	}

	wrapper, err := l.vm.RunProgram(compiled.program)
	if err != nil {
		delete(l.modules, path)
		return nil, err
	}
	call, ok := goja.AssertFunction(wrapper)
	if !ok {
		delete(l.modules, path)
		return nil, fmt.Errorf("%s: module wrapper is not callable", path)
	}

	dir := filepath.Dir(path)
	_, err = call(exports, exports, l.requireFunc(dir), module, l.vm.ToValue(path), l.vm.ToValue(dir))
	if err != nil {
		delete(l.modules, path)
		return nil, err
	}
	return module.Get("exports"), nil
}

func (l *loader) parseJSON(src string) (goja.Value, error) {
	jsonObj := l.vm.Get("JSON").ToObject(l.vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	return parse(jsonObj, l.vm.ToValue(src))
}

func (l *loader) requireFunc(dir string) goja.Value {
	return l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		path, err := l.resolve(dir, name)
		if err != nil {
			panic(l.vm.NewGoError(err))
		}
		exports, err := l.load(path)
		if err != nil {
			var ex *goja.Exception
			if errors.As(err, &ex) {
				panic(ex.Value())
			}
			panic(l.vm.NewGoError(err))
		}
		return exports
	})
}

// resolve finds the file a require(name) call from dir refers to.
func (l *loader) resolve(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty module name", errModuleNotFound)
	}

	if isRelative(name) || filepath.IsAbs(name) {
		base := name
		if !filepath.IsAbs(name) {
			base = filepath.Join(dir, filepath.FromSlash(name))
		}
		if p, ok := lookupModule(base); ok {
			return p, nil
		}
		return "", fmt.Errorf("%w '%s' from %s", errModuleNotFound, name, dir)
	}

	for _, root := range l.searchPaths {
		for _, base := range []string{
			filepath.Join(root, "node_modules", filepath.FromSlash(name)),
			filepath.Join(root, filepath.FromSlash(name)),
		} {
			if p, ok := lookupModule(base); ok {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w '%s' (search path: %s)", errModuleNotFound, name, strings.Join(l.searchPaths, string(os.PathListSeparator)))
}

func isRelative(name string) bool {
	return name == "." || name == ".." || strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../")
}

// lookupModule tries base as a file, with .js/.json extensions, as a package
// directory (package.json "main") and as a directory with index.js.
func lookupModule(base string) (string, bool) {
	for _, candidate := range []string{base, base + ".js", base + ".json"} {
		if isFile(candidate) {
			return candidate, true
		}
	}

	if pkg, err := os.ReadFile(filepath.Join(base, "package.json")); err == nil {
		var manifest struct {
			Main string `json:"main"`
		}
		if json.Unmarshal(pkg, &manifest) == nil && manifest.Main != "" {
			main := filepath.Join(base, filepath.FromSlash(manifest.Main))
			for _, candidate := range []string{main, main + ".js", filepath.Join(main, "index.js")} {
				if isFile(candidate) {
					return candidate, true
				}
			}
		}
	}

	index := filepath.Join(base, "index.js")
	if isFile(index) {
		return index, true
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
