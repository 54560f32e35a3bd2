package builder

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/signature"
)

// DefaultVersion is the class-file major version used when Header.Version is 0.
const DefaultVersion = 65

// Backend selects the encoder a ClassBuilder is replayed against.
type Backend int

const (
	// BackendModel builds through the structured class model.
	BackendModel Backend = iota
	// BackendVisitor streams through the visitor-style class writer.
	BackendVisitor
)

func (b Backend) String() string {
	switch b {
	case BackendModel:
		return "model"
	case BackendVisitor:
		return "visitor"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// Backends lists every backend.
var Backends = []Backend{BackendModel, BackendVisitor}

// ParseBackend maps a backend name to its value.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "model":
		return BackendModel, nil
	case "visitor":
		return BackendVisitor, nil
	}
	return 0, fmt.Errorf("unknown backend %q (want model or visitor)", name)
}

// Options configures one build.
type Options struct {
	Backend Backend
	// Logger overrides the package logger for this build when non-nil.
	Logger *zap.Logger
	// Dump, when non-nil, receives the internal name and bytes of every
	// class built with these options.
	Dump func(name string, data []byte) error
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return Logger()
}

// Header is the class declaration written by Build.
type Header struct {
	// Version is the major version; 0 means DefaultVersion.
	Version int
	Access  uint16
	// Name is the class type, a class descriptor.
	Name descriptor.Descriptor
	// Super is the superclass; the zero value means java/lang/Object.
	Super      descriptor.Descriptor
	Interfaces []descriptor.Descriptor
	Signature  signature.ClassSignature
}

type resolvedHeader struct {
	version    uint16
	access     uint16
	name       string
	super      string
	interfaces []string
	signature  string
}

func (h Header) resolve() (resolvedHeader, error) {
	r := resolvedHeader{
		version:   DefaultVersion,
		access:    h.Access,
		super:     "java/lang/Object",
		signature: h.Signature.String(),
	}
	var err error
	if h.Version != 0 {
		if r.version, err = safecast.Conv[uint16](h.Version); err != nil {
			return r, errors.Overflow(errors.PhaseConstruction, h.Version, "class version")
		}
	}
	if r.name, err = h.Name.InternalName(); err != nil {
		return r, err
	}
	if !h.Super.IsZero() {
		if r.super, err = h.Super.InternalName(); err != nil {
			return r, err
		}
	}
	for _, i := range h.Interfaces {
		name, err := i.InternalName()
		if err != nil {
			return r, err
		}
		r.interfaces = append(r.interfaces, name)
	}
	return r, nil
}
