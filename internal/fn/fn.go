package fn

import (
	"reflect"
	"runtime"
	"strings"
)

// Name returns the short name of the function f, used as the default registration name of workflows
// and steps. Method values lose their "-fm" suffix.
func Name(f any) string {
	full := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}

	return strings.TrimSuffix(full, "-fm")
}
