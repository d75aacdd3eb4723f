package device

import "context"

// ValidateFunc is the shape of validator WithAutorepair takes and returns:
// it checks a decoded interface{} value, unlike Handler.Validate, which
// takes recipe.ParamsWithoutVariables.
type ValidateFunc func(ctx context.Context, params interface{}) error

// RepairFunc attempts to produce an acceptable parameter document from one
// that failed validation. It returns ok=false if it cannot repair anything,
// in which case the original validation error is returned unchanged.
type RepairFunc func(params interface{}) (repaired interface{}, ok bool)

// WithAutorepair wraps a validator so that a rejected parameter document
// gets one repair attempt before the caller sees an error. This is meant
// for narrow, well-understood corrections (clamping an out-of-range value,
// filling a default for a field an older recipe predates) rather than a
// general escape hatch: a validator that needs autorepair for most of its
// inputs should fix its defaults upstream instead.
//
// Unlike Handler.Validate, this operates on the generic interface{} the
// device type's own (un)marshaling produces, since repair has to inspect
// and rewrite the structured value, not just accept or reject raw JSON.
func WithAutorepair(validate func(context.Context, interface{}) error, repair RepairFunc) func(context.Context, interface{}) error {
	return func(ctx context.Context, params interface{}) error {
		if err := validate(ctx, params); err == nil {
			return nil
		} else if repaired, ok := repair(params); ok {
			return validate(ctx, repaired)
		} else {
			return err
		}
	}
}
