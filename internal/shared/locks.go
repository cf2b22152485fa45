package shared

// ReservationSweepLockKey builds the redis key guarding the expiry sweep so
// overlapping worker instances stay single-flight.
func ReservationSweepLockKey() string {
	return "reservation:sweep:lock"
}
