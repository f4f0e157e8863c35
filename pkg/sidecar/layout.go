package sidecar

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sloppylopez/stablemock/pkg/util"
)

// Directory and file names of the on-disk layout:
//
//	<root>/<TestClass>/<testMethod>[/url_<index>]/{mappings,__files,detected-fields.json}
const (
	FileName        = "detected-fields.json"
	MappingsDirName = "mappings"
	FilesDirName    = "__files"
	indexDirPrefix  = "url_"
)

// ErrInvalidTestID is returned for identities that cannot be mapped to a directory.
var ErrInvalidTestID = errors.New("invalid test identity")

// TestID identifies the owner of a sidecar: a test method and the index of
// the recording annotation within it. Index 0 is the method directory itself;
// higher indexes live in url_<index> subdirectories.
type TestID struct {
	Class  string `json:"testClass"`
	Method string `json:"testMethod"`
	Index  int    `json:"annotation_index"`
}

func (id TestID) String() string {
	s := id.Class + "." + id.Method
	if id.Index > 0 {
		s += "[" + strconv.Itoa(id.Index) + "]"
	}
	return s
}

// Validate checks that every component is safe to use as a directory name.
func (id TestID) Validate() error {
	if _, ok := util.SafePathComponent(id.Class); !ok {
		return fmt.Errorf("%w: class %q", ErrInvalidTestID, id.Class)
	}
	if _, ok := util.SafePathComponent(id.Method); !ok {
		return fmt.Errorf("%w: method %q", ErrInvalidTestID, id.Method)
	}
	if id.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidTestID, id.Index)
	}
	return nil
}

// ClassDir is the directory shared by every method of the class.
func (id TestID) ClassDir(root string) string {
	return filepath.Join(root, id.Class)
}

// Dir is the directory owned by this test method and annotation.
func (id TestID) Dir(root string) string {
	dir := filepath.Join(root, id.Class, id.Method)
	if id.Index > 0 {
		dir = filepath.Join(dir, indexDirPrefix+strconv.Itoa(id.Index))
	}
	return dir
}

// MappingsDir holds the stub mapping files.
func (id TestID) MappingsDir(root string) string {
	return filepath.Join(id.Dir(root), MappingsDirName)
}

// FilesDir holds response body files referenced by mappings.
func (id TestID) FilesDir(root string) string {
	return filepath.Join(id.Dir(root), FilesDirName)
}

// SidecarPath is the location of detected-fields.json.
func (id TestID) SidecarPath(root string) string {
	return filepath.Join(id.Dir(root), FileName)
}
