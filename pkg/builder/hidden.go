package builder

import (
	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classdata"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

// DefineHidden builds a class with fn and defines it as a hidden class
// through lookup. fn registers class data on the tracker it receives; the
// class is defined with class data iff anything was registered, in which
// case the data is the list of slot values in registration order.
func DefineHidden(lookup invoke.Lookup, initialize bool, h Header, opts Options, fn func(*ClassBuilder, *classdata.Tracker) error, classOpts ...invoke.ClassOption) (invoke.Lookup, error) {
	log := opts.logger()
	tracker := classdata.New()
	cb := New()
	if err := fn(cb, tracker); err != nil {
		return nil, err
	}
	data, err := cb.Build(h, opts)
	if err != nil {
		return nil, err
	}
	name, _ := h.Name.InternalName()
	if tracker.Empty() {
		log.Debug("defining hidden class",
			zap.String("class", name),
			zap.Bool("initialize", initialize))
		defined, err := lookup.DefineHiddenClass(data, initialize, classOpts...)
		if err != nil {
			return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
				Owner(name).Cause(err).Detail("defining hidden class").Build()
		}
		return defined, nil
	}
	values, err := tracker.Finalize()
	if err != nil {
		return nil, err
	}
	log.Debug("defining hidden class",
		zap.String("class", name),
		zap.Bool("initialize", initialize),
		zap.Int("classData", len(values)))
	defined, err := lookup.DefineHiddenClassWithClassData(data, values, initialize, classOpts...)
	if err != nil {
		return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
			Owner(name).Cause(err).Detail("defining hidden class with class data").Build()
	}
	return defined, nil
}
