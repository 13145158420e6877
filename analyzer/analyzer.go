package analyzer

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const workflowPackage = "github.com/go-durable/durable/workflow"

var Analyzer = &analysis.Analyzer{
	Name:     "durable",
	Doc:      "Checks for common errors when writing workflows",
	Run:      run,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
}

// Calls that are not deterministic on replay, keyed by package path and function name. An empty
// name matches every package level function.
var forbiddenCalls = map[string]map[string]string{
	"time": {
		"Now":   "use workflow.Now instead of time.Now in workflows",
		"Sleep": "use workflow.Sleep instead of time.Sleep in workflows",
		"Since": "time.Since is not deterministic, use workflow.Now in workflows",
		"After": "use workflow.Sleep instead of time.After in workflows",
	},
	"math/rand": {
		"": "random numbers are not deterministic, generate them in a step",
	},
	"math/rand/v2": {
		"": "random numbers are not deterministic, generate them in a step",
	},
}

func run(pass *analysis.Pass) (interface{}, error) {
	inspector := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}

	inspector.Preorder(nodeFilter, func(node ast.Node) {
		funcDecl := node.(*ast.FuncDecl)

		if funcDecl.Body == nil || !isWorkflow(pass, funcDecl) {
			return
		}

		// Check return types
		if funcDecl.Type.Results == nil || len(funcDecl.Type.Results.List) == 0 {
			pass.Reportf(funcDecl.Pos(), "workflow %q doesn't return anything. needs to return at least `error`", funcDecl.Name.Name)
		} else {
			if len(funcDecl.Type.Results.List) > 2 {
				pass.Reportf(funcDecl.Pos(), "workflow %q returns more than two values", funcDecl.Name.Name)
			} else {
				lastResult := funcDecl.Type.Results.List[len(funcDecl.Type.Results.List)-1]
				if types.ExprString(lastResult.Type) != "error" {
					pass.Reportf(funcDecl.Pos(), "workflow %q doesn't return `error` as last return value", funcDecl.Name.Name)
				}
			}
		}

		// Check for various errors in the workflow body
		ast.Inspect(funcDecl.Body, func(n ast.Node) bool {
			switch n := n.(type) {
			// Function literals are step bodies, they may do anything
			case *ast.FuncLit:
				return false

			// Check for map iterations
			case *ast.RangeStmt:
				if t := pass.TypesInfo.TypeOf(n.X); t != nil {
					if _, ok := t.Underlying().(*types.Map); ok {
						pass.Reportf(n.Pos(), "iterating over a map is not deterministic and not allowed in workflows")
					}
				}

			// Check for `go` statements
			case *ast.GoStmt:
				pass.Reportf(n.Pos(), "goroutines are not allowed in workflows, run concurrent work in a step")
				return false

			case *ast.CallExpr:
				if msg, ok := forbiddenCall(pass, n); ok {
					pass.Reportf(n.Pos(), "%s", msg)
				}
			}

			return true
		})
	})

	return nil, nil
}

func forbiddenCall(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", false
	}

	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return "", false
	}

	// Methods, e.g. on a *rand.Rand created in a step, are fine
	if sig, ok := fn.Type().(*types.Signature); !ok || sig.Recv() != nil {
		return "", false
	}

	calls, ok := forbiddenCalls[fn.Pkg().Path()]
	if !ok {
		return "", false
	}

	if msg, ok := calls[fn.Name()]; ok {
		return msg, true
	}

	msg, ok := calls[""]
	return msg, ok
}

// isWorkflow reports whether the first parameter is a workflow.Context
func isWorkflow(pass *analysis.Pass, funcDecl *ast.FuncDecl) bool {
	params := funcDecl.Type.Params.List

	// Need at least workflow.Context
	if len(params) < 1 {
		return false
	}

	if t := pass.TypesInfo.TypeOf(params[0].Type); t != nil {
		if named, ok := t.(*types.Named); ok {
			obj := named.Obj()
			return obj.Pkg() != nil && obj.Pkg().Path() == workflowPackage && obj.Name() == "Context"
		}

		return false
	}

	// Type information is incomplete, fall back to the name
	firstParam, ok := params[0].Type.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	xname, ok := firstParam.X.(*ast.Ident)
	if !ok {
		return false
	}

	return xname.Name+"."+firstParam.Sel.Name == "workflow.Context"
}
