package services

import "time"

// DueDate computes the due date for a loan checked out at checkedOutAt with
// the given duration in days: the calendar date durationDays after the
// checkout date, normalized to midnight in the checkout instant's location.
// Checkout at any hour of day D therefore always yields D+durationDays 00:00.
func DueDate(checkedOutAt time.Time, durationDays int) time.Time {
	year, month, day := checkedOutAt.Date()
	return time.Date(year, month, day+durationDays, 0, 0, 0, 0, checkedOutAt.Location())
}
