// Package selector compiles string expressions into subscription selectors.
//
// Expressions are evaluated against an instance snapshot, so data
// properties, computed properties, and nested sub-models are all
// addressable:
//
//	sel, err := selector.Compile("user.firstName + ' ' + user.lastName")
//	sub := model.Subscribe(m, sel, model.Strict, onChange)
//
// Expression evaluation produces fresh values per pass; when an expression
// yields a map or list, pair it with model.Shallow.
package selector

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/linq2js/remos/pkg/errors"
	"github.com/linq2js/remos/pkg/model"
)

// Compile builds a single-instance selector from an expression. The
// expression is compiled once; an invalid expression fails here rather than
// on first notification.
func Compile(src string) (func(*model.Instance) any, error) {
	program, err := compile(src)
	if err != nil {
		return nil, err
	}
	return func(m *model.Instance) any {
		return run(program, src, m.Snapshot())
	}, nil
}

// CompileMany builds a multi-instance selector. Each observed instance's
// snapshot is addressable through the names slice, in order:
//
//	sel, err := selector.CompileMany("cart.total + wallet.balance", "cart", "wallet")
//	sub := model.SubscribeMany([]*model.Instance{cart, wallet}, sel, model.Strict, onChange)
func CompileMany(src string, names ...string) (func([]*model.Instance) any, error) {
	program, err := compile(src)
	if err != nil {
		return nil, err
	}
	return func(ms []*model.Instance) any {
		env := make(map[string]any, len(names))
		for i, name := range names {
			if i >= len(ms) {
				break
			}
			env[name] = ms[i].Snapshot()
		}
		return run(program, src, env)
	}, nil
}

func compile(src string) (*vm.Program, error) {
	program, err := expr.Compile(src)
	if err != nil {
		return nil, &errors.ModelError{Op: "selector.Compile", Kind: errors.KindSelector, Err: err}
	}
	return program, nil
}

// run evaluates the program, containing failures the same way the engine
// contains hook failures: the error is reported and the selector yields
// nil, which suppresses spurious callbacks for unrelated changes.
func run(program *vm.Program, src string, env map[string]any) any {
	out, err := expr.Run(program, env)
	if err != nil {
		errors.Report(&errors.ModelError{
			Op:       "selector.Run",
			Kind:     errors.KindSelector,
			Property: src,
			Err:      err,
		})
		return nil
	}
	return out
}
