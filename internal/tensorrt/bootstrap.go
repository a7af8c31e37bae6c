package tensorrt

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	onnx "github.com/yalue/onnxruntime_go"

	"github.com/tensorloom/loom/internal/errs"
)

// sharedLibraryNames lists the platform-conventional shared library
// filenames this facade will accept, by GOOS. Unlike the teacher's
// bootstrap, this never reaches out to the network: local model
// deployment per §6 is a local-file operation end to end, and a
// self-hosted runtime artifact is no exception. A deployment that
// needs the library fetched does that once, out of band (a container
// build step, a package manager, a release asset unpacked by the
// operator), and points this facade at the result.
var sharedLibraryNames = map[string][]string{
	"linux":   {"libonnxruntime.so"},
	"darwin":  {"libonnxruntime.dylib"},
	"windows": {"onnxruntime.dll"},
}

// searchRoots is where EnsureSharedLibrary looks for a shared library
// it wasn't told about explicitly, in order. Relative to the process's
// working directory except for the executable's own directory.
var searchRoots = []string{".", "./lib", "./.onnxruntime"}

// EnsureSharedLibrary locates the platform-appropriate ONNX Runtime
// shared library and points the binding at it, returning the path it
// configured. It never downloads anything: callers that need the
// library fetched are expected to set ONNXRUNTIME_SHARED_LIBRARY_PATH,
// or place it under one of searchRoots, themselves.
//
// This is the one process-wide side effect the facade performs outside
// of InitEnvironment: the native library must be resolved before a
// session can be opened at all.
func EnsureSharedLibrary() (string, error) {
	if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
		if !fileExists(path) {
			return "", errs.New(errs.NotFound,
				"ONNXRUNTIME_SHARED_LIBRARY_PATH set to "+path+" but no file exists there")
		}
		onnx.SetSharedLibraryPath(path)
		log.Debug().Str("path", path).Msg("onnxruntime shared library resolved from environment")
		return path, nil
	}

	names, ok := sharedLibraryNames[runtime.GOOS]
	if !ok {
		return "", errs.New(errs.InvalidArgument,
			"unsupported platform "+runtime.GOOS+"/"+runtime.GOARCH+"; set ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}

	roots := append([]string{}, searchRoots...)
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}

	for _, root := range roots {
		if path, ok := findExistingLib(root, names); ok {
			onnx.SetSharedLibraryPath(path)
			log.Debug().Str("path", path).Msg("onnxruntime shared library resolved from search root")
			return path, nil
		}
	}

	return "", errs.New(errs.NotFound,
		"onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or place "+
			strings.Join(names, " or ")+" under one of "+strings.Join(searchRoots, ", "))
}

func findExistingLib(root string, names []string) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, name := range names {
			if e.Name() == name {
				return filepath.Join(root, e.Name()), true
			}
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
