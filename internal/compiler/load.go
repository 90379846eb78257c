package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/automata/internal/ir"
)

// Blueprints are declared under this top-level CUE field.
const blueprintField = "blueprint"

// Source is a compiled blueprint and the file it came from.
type Source struct {
	File    string
	Label   string
	Content ir.BlueprintContent
}

// LoadError wraps a failure to load or compile one blueprint source.
type LoadError struct {
	File  string
	Label string
	Err   error
}

func (e *LoadError) Error() string {
	var ce *CompileError
	if errors.As(e.Err, &ce) && ce.Pos.IsValid() {
		return e.Err.Error()
	}
	if e.Label != "" {
		return fmt.Sprintf("%s: %s.%s: %v", e.File, blueprintField, e.Label, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadFile loads blueprints from a single .cue or .json file.
//
// A CUE file may declare any number of blueprints under `blueprint:`.
// A JSON file holds exactly one blueprint content object.
func LoadFile(path string) ([]Source, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{File: path, Err: err}}
	}

	switch filepath.Ext(path) {
	case ".json":
		var content ir.BlueprintContent
		if err := json.Unmarshal(data, &content); err != nil {
			return nil, []error{&LoadError{File: path, Err: err}}
		}
		return []Source{{File: path, Label: content.Name, Content: content}}, nil
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		return compileAll(path, v)
	default:
		return nil, []error{&LoadError{File: path, Err: fmt.Errorf("unsupported file type %q", filepath.Ext(path))}}
	}
}

// LoadDir loads every blueprint under dir. The .cue files are built as one
// CUE package instance so they may share definitions; .json files are
// loaded one by one. All errors are collected.
func LoadDir(dir string) ([]Source, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{File: dir, Err: err}}
	}
	if !info.IsDir() {
		return LoadFile(dir)
	}

	var cueFiles, jsonFiles []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != dir {
			return filepath.SkipDir
		}
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".json":
			jsonFiles = append(jsonFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, []error{&LoadError{File: dir, Err: err}}
	}
	if len(cueFiles) == 0 && len(jsonFiles) == 0 {
		return nil, []error{&LoadError{File: dir, Err: errors.New("no .cue or .json files found")}}
	}

	var (
		sources []Source
		errs    []error
	)

	if len(cueFiles) > 0 {
		instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
		switch {
		case len(instances) == 0:
			errs = append(errs, &LoadError{File: dir, Err: errors.New("no CUE instances loaded")})
		case instances[0].Err != nil:
			errs = append(errs, &LoadError{File: dir, Err: formatCUEError(instances[0].Err)})
		default:
			v := cuecontext.New().BuildInstance(instances[0])
			s, e := compileAll(dir, v)
			sources = append(sources, s...)
			errs = append(errs, e...)
		}
	}

	slices.Sort(jsonFiles)
	for _, path := range jsonFiles {
		s, e := LoadFile(path)
		sources = append(sources, s...)
		errs = append(errs, e...)
	}

	return sources, errs
}

// compileAll compiles every field of the top-level blueprint struct.
func compileAll(file string, v cue.Value) ([]Source, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{&LoadError{File: file, Err: formatCUEError(err)}}
	}

	bpVal := v.LookupPath(cue.ParsePath(blueprintField))
	if !bpVal.Exists() {
		return nil, []error{&LoadError{File: file, Err: fmt.Errorf("no %s declarations found", blueprintField)}}
	}

	iter, err := bpVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{File: file, Err: formatCUEError(err)}}
	}

	var (
		sources []Source
		errs    []error
	)
	for iter.Next() {
		content, err := CompileBlueprint(iter.Value())
		if err != nil {
			errs = append(errs, &LoadError{File: file, Label: iter.Label(), Err: err})
			continue
		}
		sources = append(sources, Source{File: file, Label: iter.Label(), Content: *content})
	}
	return sources, errs
}
