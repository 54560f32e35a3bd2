package vm

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
)

// ClassLoader loads .class files by class name.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// jmodMagic prefixes the zip data of a JDK jmod file.
var jmodMagic = []byte("JM\x01\x00")

// ArchiveClassLoader loads classes from a jar or a JDK jmod file. Entries
// of a jmod live under classes/.
type ArchiveClassLoader struct {
	Path string

	mu        sync.Mutex
	cache     map[string]*classfile.ClassFile
	zipReader *zip.Reader
	prefix    string
}

// NewArchiveClassLoader creates a loader reading the archive at path.
func NewArchiveClassLoader(path string) *ArchiveClassLoader {
	return &ArchiveClassLoader{
		Path:  path,
		cache: make(map[string]*classfile.ClassFile),
	}
}

func (cl *ArchiveClassLoader) ensureZipReader() error {
	if cl.zipReader != nil {
		return nil
	}
	data, err := os.ReadFile(cl.Path)
	if err != nil {
		return fmt.Errorf("archive: reading %s: %w", cl.Path, err)
	}
	if bytes.HasPrefix(data, jmodMagic) {
		data = data[len(jmodMagic):]
		cl.prefix = "classes/"
	}
	cl.zipReader, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("archive: opening zip %s: %w", cl.Path, err)
	}
	return nil
}

func (cl *ArchiveClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	if err := cl.ensureZipReader(); err != nil {
		return nil, err
	}

	target := cl.prefix + name + ".class"
	for _, file := range cl.zipReader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: opening %s: %w", target, err)
		}
		defer rc.Close()

		cf, err := classfile.Parse(rc)
		if err != nil {
			return nil, fmt.Errorf("archive: parsing %s: %w", name, err)
		}
		cl.cache[name] = cf
		return cf, nil
	}
	return nil, fmt.Errorf("archive: class %s not found in %s", name, cl.Path)
}

// DirClassLoader loads classes from a class path directory, delegating to
// the parent first when one is set.
type DirClassLoader struct {
	ClassPath string
	Parent    ClassLoader

	mu    sync.Mutex
	cache map[string]*classfile.ClassFile
}

// NewDirClassLoader creates a new DirClassLoader. parent may be nil.
func NewDirClassLoader(classPath string, parent ClassLoader) *DirClassLoader {
	return &DirClassLoader{
		ClassPath: classPath,
		Parent:    parent,
		cache:     make(map[string]*classfile.ClassFile),
	}
}

func (cl *DirClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cf, ok := cl.cache[name]; ok {
		return cf, nil
	}
	path := filepath.Join(cl.ClassPath, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("dir: class %s not found: %w", name, err)
	}
	cl.cache[name] = cf
	return cf, nil
}

// MemoryClassLoader serves class files held in memory, typically the
// output of a class builder.
type MemoryClassLoader struct {
	mu      sync.RWMutex
	classes map[string][]byte
}

// NewMemoryClassLoader creates an empty MemoryClassLoader.
func NewMemoryClassLoader() *MemoryClassLoader {
	return &MemoryClassLoader{classes: make(map[string][]byte)}
}

// Add registers the class file data under its declared name.
func (cl *MemoryClassLoader) Add(data []byte) (string, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return "", fmt.Errorf("memory: parsing class: %w", err)
	}
	name, err := cf.ClassName()
	if err != nil {
		return "", fmt.Errorf("memory: reading class name: %w", err)
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.classes[name] = data
	return name, nil
}

func (cl *MemoryClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cl.mu.RLock()
	data, ok := cl.classes[name]
	cl.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: class %s not found", name)
	}
	return classfile.ParseBytes(data)
}

// ChainClassLoader tries each loader in order.
type ChainClassLoader []ClassLoader

func (c ChainClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	var errs []error
	for _, l := range c {
		cf, err := l.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("class %s not found: %v", name, errs)
}
