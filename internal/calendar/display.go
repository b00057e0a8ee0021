package calendar

import (
	"strings"
	"time"
)

const (
	FallbackCustomerName  = "No customer details provided"
	FallbackCustomerEmail = "No customer email provided"
	FallbackCustomerPhone = "No phone number provided"

	// Title context uses its own capitalization.
	FallbackTitleCustomer = "No Customer Details Provided"
	FallbackTitle         = "Untitled Event"

	FallbackTimeLabel = "Time TBD"
)

// Sanitize trims value and reports false when nothing is left.
func Sanitize(value string) (string, bool) {
	v := strings.TrimSpace(value)
	return v, v != ""
}

func orFallback(value, fallback string) string {
	if v, ok := Sanitize(value); ok {
		return v
	}
	return fallback
}

func customer(e Event) BookingDetails {
	if e.Booking == nil {
		return BookingDetails{}
	}
	return *e.Booking
}

func CustomerNameDisplay(e Event) string {
	return orFallback(customer(e).CustomerName, FallbackCustomerName)
}

func CustomerEmailDisplay(e Event) string {
	return orFallback(customer(e).CustomerEmail, FallbackCustomerEmail)
}

func CustomerPhoneDisplay(e Event) string {
	return orFallback(customer(e).PhoneNumber, FallbackCustomerPhone)
}

// DisplayTitle renders "{customer} - {title}" with the title-context fallbacks.
func DisplayTitle(e Event) string {
	return orFallback(customer(e).CustomerName, FallbackTitleCustomer) + " - " + orFallback(e.Title, FallbackTitle)
}

// TimeLabel formats "15:04 - 16:04" in loc, or FallbackTimeLabel for untimed events.
func TimeLabel(e Event, loc *time.Location) string {
	if !e.Timed() {
		return FallbackTimeLabel
	}
	if loc == nil {
		loc = time.UTC
	}
	return e.Start.In(loc).Format("15:04") + " - " + e.End.In(loc).Format("15:04")
}
