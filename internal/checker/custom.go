package checker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// customTimeout bounds a single call into a custom checker.
var customTimeout = 10 * time.Second

// libPrelude builds the lib object passed as the fourth argument of check().
const libPrelude = `
var __lib = Object.freeze({
	normalizeOutput: function (s) { return __normalizeOutput(String(s)); },
	tokenize: function (s) { return __tokenize(String(s)); },
	arrayEquals: function (a, b) {
		if (a.length !== b.length) return false;
		for (var i = 0; i < a.length; i++) if (a[i] !== b[i]) return false;
		return true;
	},
	arrayEqualsFloat: function (a, b, eps) {
		return __arrayEqualsFloat(Array.prototype.map.call(a, String), Array.prototype.map.call(b, String), eps === undefined ? 1e-9 : eps);
	}
});
`

type customChecker struct {
	path  string
	mu    sync.Mutex
	vm    *goja.Runtime
	check goja.Callable
	lib   goja.Value
}

// loadCustom compiles a JavaScript checker file that defines
// check(input, output, expected, lib) returning a boolean.
func loadCustom(rawPath, root string) (Func, error) {
	if rawPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrCheckerFormat)
	}

	path := rawPath
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckerNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckerNotFound, path, err)
	}
	if info.IsDir() || filepath.Ext(path) != ".js" {
		return nil, fmt.Errorf("%w: %s must be a .js file", ErrCheckerFormat, path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read custom checker %s: %w", path, err)
	}

	c := &customChecker{path: path, vm: goja.New()}
	if err := c.bind(); err != nil {
		return nil, err
	}

	if _, err := c.vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckerFormat, path, err)
	}

	check, ok := goja.AssertFunction(c.vm.Get("check"))
	if !ok {
		return nil, fmt.Errorf("%w: %s must define check(input, output, expected, lib)", ErrCheckerFormat, path)
	}
	c.check = check

	return c.run, nil
}

func (c *customChecker) bind() error {
	vm := c.vm
	if err := vm.Set("__normalizeOutput", NormalizeOutput); err != nil {
		return err
	}
	if err := vm.Set("__tokenize", func(s string) goja.Value {
		tokens := Tokenize(s)
		items := make([]interface{}, len(tokens))
		for i, t := range tokens {
			items[i] = t
		}
		return vm.NewArray(items...)
	}); err != nil {
		return err
	}
	if err := vm.Set("__arrayEqualsFloat", func(a, b goja.Value, eps float64) bool {
		return ArrayEqualsFloat(exportStrings(a), exportStrings(b), eps)
	}); err != nil {
		return err
	}
	if _, err := vm.RunString(libPrelude); err != nil {
		return fmt.Errorf("custom checker prelude: %w", err)
	}
	c.lib = vm.Get("__lib")
	return nil
}

func (c *customChecker) run(input, output string, expected *string, _ Library) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := goja.Null()
	if expected != nil {
		exp = c.vm.ToValue(*expected)
	}

	timer := time.AfterFunc(customTimeout, func() {
		c.vm.Interrupt(fmt.Sprintf("checker exceeded %s", customTimeout))
	})
	defer func() {
		timer.Stop()
		c.vm.ClearInterrupt()
	}()

	res, err := c.check(goja.Undefined(), c.vm.ToValue(input), c.vm.ToValue(output), exp, c.lib)
	if err != nil {
		return false, fmt.Errorf("custom checker %s: %w", filepath.Base(c.path), err)
	}
	return res.ToBoolean(), nil
}

func exportStrings(v goja.Value) []string {
	raw, ok := v.Export().([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		out[i] = fmt.Sprint(item)
	}
	return out
}
