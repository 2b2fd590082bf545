// Package checkout drives the book checkout wizard: dedication, shipping
// address and rate selection for printed books, review, then the hosted
// payment redirect.
package checkout

import (
	"errors"
	"fmt"

	"github.com/digkill/storybook/internal/models"
)

type State string

const (
	StateDedication     State = "DEDICATION"
	StateShipping       State = "SHIPPING"
	StateLoadingRates   State = "LOADING_RATES"
	StateSelectShipping State = "SELECT_SHIPPING"
	StateReview         State = "REVIEW"
	StateRedirected     State = "REDIRECTED"
)

type EventType string

const (
	EventNext            EventType = "next"
	EventBack            EventType = "back"
	EventSubmitShipping  EventType = "submit_shipping"
	EventRatesLoaded     EventType = "rates_loaded"
	EventRatesFailed     EventType = "rates_failed"
	EventSelectRate      EventType = "select_rate"
	EventCheckout        EventType = "checkout"
	EventCheckoutCreated EventType = "checkout_created"
	EventCheckoutFailed  EventType = "checkout_failed"
	EventPricesLoaded    EventType = "prices_loaded"
)

// Event is an input to the machine. AddressValid is only read for
// EventSubmitShipping.
type Event struct {
	Type         EventType
	AddressValid bool
}

var ErrIllegalTransition = errors.New("illegal checkout transition")

type TransitionError struct {
	From   State
	Event  EventType
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s in %s: %s", ErrIllegalTransition, e.Event, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Machine is the wizard position plus the facts the guards depend on. It is a
// plain value; Apply returns the next value and never mutates the receiver.
type Machine struct {
	State        State `json:"state"`
	Physical     bool  `json:"physical"`
	PricesLoaded bool  `json:"prices_loaded"`
	AddressValid bool  `json:"address_valid"`
	RateSelected bool  `json:"rate_selected"`
	Submitting   bool  `json:"submitting"`
}

func NewMachine(productType models.ProductType) Machine {
	return Machine{State: StateDedication, Physical: productType.IsPhysical()}
}

// CanCheckout reports whether the review screen may submit.
func (m Machine) CanCheckout() bool {
	if m.State != StateReview || m.Submitting || !m.PricesLoaded {
		return false
	}
	return !m.Physical || (m.AddressValid && m.RateSelected)
}

// CanGoBack reports whether Back is currently accepted.
func (m Machine) CanGoBack() bool {
	switch m.State {
	case StateDedication, StateLoadingRates, StateRedirected:
		return false
	case StateReview:
		return !m.Submitting
	}
	return true
}

func (m Machine) Apply(ev Event) (Machine, error) {
	if m.State == StateRedirected {
		return m, m.reject(ev, "checkout already redirected")
	}
	if ev.Type == EventPricesLoaded {
		m.PricesLoaded = true
		return m, nil
	}
	if ev.Type == EventBack {
		return m.back(ev)
	}

	switch m.State {
	case StateDedication:
		if ev.Type == EventNext {
			if m.Physical {
				m.State = StateShipping
			} else {
				m.State = StateReview
			}
			return m, nil
		}

	case StateShipping:
		if ev.Type == EventSubmitShipping {
			if !ev.AddressValid {
				m.AddressValid = false
				return m, m.reject(ev, "shipping address is not valid")
			}
			m.AddressValid = true
			m.RateSelected = false
			m.State = StateLoadingRates
			return m, nil
		}

	case StateLoadingRates:
		switch ev.Type {
		case EventRatesLoaded:
			m.State = StateSelectShipping
			return m, nil
		case EventRatesFailed:
			m.State = StateShipping
			return m, nil
		}

	case StateSelectShipping:
		switch ev.Type {
		case EventSelectRate:
			m.RateSelected = true
			return m, nil
		case EventNext:
			if !m.RateSelected {
				return m, m.reject(ev, "select a shipping option first")
			}
			m.State = StateReview
			return m, nil
		}

	case StateReview:
		switch ev.Type {
		case EventCheckout:
			if !m.CanCheckout() {
				return m, m.reject(ev, m.checkoutBlocker())
			}
			m.Submitting = true
			return m, nil
		case EventCheckoutCreated:
			if !m.Submitting {
				return m, m.reject(ev, "no checkout in flight")
			}
			m.Submitting = false
			m.State = StateRedirected
			return m, nil
		case EventCheckoutFailed:
			if !m.Submitting {
				return m, m.reject(ev, "no checkout in flight")
			}
			m.Submitting = false
			return m, nil
		}
	}
	return m, m.reject(ev, "event not accepted here")
}

func (m Machine) back(ev Event) (Machine, error) {
	if !m.CanGoBack() {
		return m, m.reject(ev, "cannot go back from here")
	}
	switch m.State {
	case StateShipping:
		m.State = StateDedication
	case StateSelectShipping:
		m.State = StateShipping
	case StateReview:
		if m.Physical {
			m.State = StateSelectShipping
		} else {
			m.State = StateDedication
		}
	}
	return m, nil
}

func (m Machine) checkoutBlocker() string {
	switch {
	case m.Submitting:
		return "checkout already in progress"
	case !m.PricesLoaded:
		return "prices are still loading"
	case m.Physical && !m.RateSelected:
		return "select a shipping option first"
	}
	return "checkout unavailable"
}

func (m Machine) reject(ev Event, reason string) error {
	return &TransitionError{From: m.State, Event: ev.Type, Reason: reason}
}
