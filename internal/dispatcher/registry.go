package dispatcher

import "context"

// JobFunc is the signature every registered task function must satisfy.
type JobFunc func(ctx context.Context, args []interface{}, kwargs map[string]string) (interface{}, error)

var registry = map[string]JobFunc{}

// RegisterJob adds fn to the allow-list of tasks dispatch_task may invoke
// by name. Intended to be called from package init(), mirroring the
// original's "function must be an attribute of the jobs module" allow-list,
// adapted to Go's lack of reflection-based module introspection.
func RegisterJob(name string, fn JobFunc) {
	registry[name] = fn
}

func lookupJob(name string) (JobFunc, bool) {
	fn, ok := registry[name]
	return fn, ok
}
