package model

// Fallback names the policy that produced the amounts of an infeasible result.
type Fallback string

const (
	FallbackNone Fallback = ""
	// FallbackDrainDown executes redemptions only, senior first, capped by the reserve.
	FallbackDrainDown Fallback = "drain_down"
	// FallbackHold executes nothing and requires governance action.
	FallbackHold Fallback = "hold"
)

// AllocationResult is the solver output. Executed amounts never exceed the
// corresponding order amounts.
type AllocationResult struct {
	IsFeasible bool
	Executed   OrderSnapshot
	Fallback   Fallback
}

// FullyExecutes reports whether the result is feasible and fills every order.
func (r AllocationResult) FullyExecutes(orders OrderSnapshot) bool {
	return r.IsFeasible && r.Executed.Equal(orders)
}
