package assistant

import (
	"fmt"
	"strings"
)

// WelcomeMessage opens every new conversation.
const WelcomeMessage = "Welcome to Heart Clinic! How can I assist you today?"

const (
	msgAskDate                = "Please enter the date you'd like to book (YYYY-MM-DD format):"
	msgInvalidDate            = "Please enter a valid date in YYYY-MM-DD format (e.g., 2025-12-25)."
	msgPastDate               = "Please select a date in the future."
	msgCancelAborted          = "Appointment cancellation cancelled. How else can I help?"
	msgNothingBooked          = "You don't have any appointments to cancel."
	msgNoUpcoming             = "You don't have any upcoming appointments to cancel."
	msgAskDateForAvailability = "Please specify a date in YYYY-MM-DD format to check availability."
	msgTrouble                = "We're having trouble processing your request. Please try again later."
	msgHelp                   = "I can help you with booking appointments, checking availability, and cancelling appointments. How can I assist you?"
)

func msgClosed(date, reason string) string {
	if reason == "" {
		reason = "No reason provided"
	}
	return fmt.Sprintf("The clinic is closed on %s (%s). Please try another date.", date, reason)
}

func msgNoSlots(date string) string {
	return fmt.Sprintf("No available slots on %s. Please try another date.", date)
}

func msgOfferSlots(date string, slots []string) string {
	return fmt.Sprintf("Available times on %s: %s. Please choose a time (e.g., 09:00).", date, strings.Join(slots, ", "))
}

func msgInvalidSlot(clinicHours []string) string {
	return fmt.Sprintf("Please choose a valid time slot from our working hours (%s).", strings.Join(clinicHours, ", "))
}

func msgSlotJustTaken(date string, remaining []string) string {
	return fmt.Sprintf("This time slot was just booked. Please choose another time. Available times on %s: %s.", date, strings.Join(remaining, ", "))
}

func msgBooked(date, slot, email string) string {
	return fmt.Sprintf("Appointment confirmed on %s at %s. A confirmation has been sent to %s.", date, slot, email)
}

func msgAlreadyBooked(date, slot string) string {
	return fmt.Sprintf("You already have an upcoming appointment on %s at %s. Please cancel this appointment before booking a new one.", date, slot)
}

func msgLapsed(date string) string {
	return fmt.Sprintf("Your most recent appointment was on %s. You may now book a new appointment.", date)
}

func msgConfirmCancel(date, slot string) string {
	return fmt.Sprintf("You have an upcoming appointment on %s at %s. Are you sure you want to cancel this appointment? (yes/no)", date, slot)
}

func msgCancelled(date, slot string) string {
	return fmt.Sprintf("Your appointment on %s at %s has been cancelled.", date, slot)
}

func msgAvailability(date string, slots []string) string {
	if len(slots) == 0 {
		return fmt.Sprintf("No available slots on %s. Try another date.", date)
	}
	return fmt.Sprintf("Available slots on %s: %s.", date, strings.Join(slots, ", "))
}
