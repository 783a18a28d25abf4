package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

var consoleMu sync.Mutex

// installConsole binds console.log/info/warn/error/debug to w, one line per call.
func installConsole(vm *goja.Runtime, w io.Writer) error {
	console := vm.NewObject()
	for method, level := range map[string]string{
		"log":   "INFO",
		"info":  "INFO",
		"debug": "DEBUG",
		"warn":  "WARN",
		"error": "ERROR",
	} {
		level := level
		err := console.Set(method, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, formatArg(arg))
			}
			consoleMu.Lock()
			_, _ = fmt.Fprintf(w, "%s\t%s\n", level, strings.Join(parts, " "))
			consoleMu.Unlock()
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func formatArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	switch exported := v.Export().(type) {
	case string:
		return exported
	case map[string]interface{}, []interface{}:
		if b, err := json.Marshal(exported); err == nil {
			return string(b)
		}
	}
	return v.String()
}
