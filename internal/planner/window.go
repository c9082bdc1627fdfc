package planner

// ReactivationWindow is how close, in milliseconds, a child's soft delete must be to its parent's
// for the child to be reactivated with it. The rendered triggers compare with <=, so the bound is
// inclusive.
type ReactivationWindow struct {
	ToleranceMs int64
}

// ToleranceMicros returns the window in microseconds, the unit the SQL comparison uses
func (w ReactivationWindow) ToleranceMicros() int64 {
	return w.ToleranceMs * 1000
}
