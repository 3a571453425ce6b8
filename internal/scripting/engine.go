// Package scripting embeds a Lua VM for damage tuning hooks so balance
// changes ship as script edits instead of server builds.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for tuning hooks.
// Single-goroutine access only (simulation tick).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. A missing directory is not an error: every hook has a built-in
// fallback, so a server can run with no scripts at all.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load tuning scripts: %w", err)
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Falloff calls Lua falloff(distance, radius) for area damage attenuation.
// Distance is measured in slices from the blast center. The built-in curve
// loses 30% per slice and bottoms out at zero.
func (e *Engine) Falloff(distance, radius float64) float64 {
	fn := e.vm.GetGlobal("falloff")
	if fn == lua.LNil {
		return ReferenceFalloff(distance)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(distance), lua.LNumber(radius)); err != nil {
		e.log.Error("lua falloff error", zap.Error(err))
		return ReferenceFalloff(distance)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	if !ok {
		e.log.Error("lua falloff returned non-number")
		return ReferenceFalloff(distance)
	}
	if n < 0 {
		return 0
	}
	return float64(n)
}

// MaterialModifier calls Lua material_modifier(material, kind) to scale
// damage per wall material and damage kind ("point" or "area"). The
// built-in modifier is 1.
func (e *Engine) MaterialModifier(material, kind string) float64 {
	fn := e.vm.GetGlobal("material_modifier")
	if fn == lua.LNil {
		return 1
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(material), lua.LString(kind)); err != nil {
		e.log.Error("lua material_modifier error", zap.Error(err), zap.String("material", material))
		return 1
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	if !ok {
		e.log.Error("lua material_modifier returned non-number", zap.String("material", material))
		return 1
	}
	if n < 0 {
		return 0
	}
	return float64(n)
}

// PunctureAperture calls Lua puncture_aperture(kind) for the cone opening
// angle, in radians, recorded on a surviving slice. The built-in aperture
// is 15 degrees.
func (e *Engine) PunctureAperture(kind string) float64 {
	fn := e.vm.GetGlobal("puncture_aperture")
	if fn == lua.LNil {
		return DefaultPunctureAperture
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(kind)); err != nil {
		e.log.Error("lua puncture_aperture error", zap.Error(err))
		return DefaultPunctureAperture
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	if !ok || n <= 0 {
		return DefaultPunctureAperture
	}
	return float64(n)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
