package pipeline

import "context"

// WithStageHook runs hook at the boundary of stage before its constructor;
// an error or panic from hook fails the stage.
func WithStageHook(stage Stage, hook func(context.Context) error) Option {
	return func(o *options) {
		if o.hooks == nil {
			o.hooks = make(map[Stage]func(context.Context) error)
		}
		o.hooks[stage] = hook
	}
}
