package claims

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusNew         Status = "NEW"
	StatusMatched     Status = "MATCHED"
	StatusReserved    Status = "RESERVED"
	StatusLinkSent    Status = "LINK_SENT"
	StatusPaid        Status = "PAID"
	StatusFailedParse Status = "FAILED_PARSE"
	StatusOutOfStock  Status = "OUT_OF_STOCK"
	StatusExpired     Status = "EXPIRED"
	StatusCanceled    Status = "CANCELED"
	StatusWaitlist    Status = "WAITLIST"
)

var ErrInvalidTransition = errors.New("invalid claim status transition")

// PAID, CANCELED and WAITLIST are never produced by the pipeline; they exist so
// fulfillment can move a claim there later.
var validNext = map[Status]map[Status]bool{
	StatusNew:         {StatusMatched: true, StatusFailedParse: true},
	StatusMatched:     {StatusReserved: true, StatusFailedParse: true, StatusOutOfStock: true},
	StatusReserved:    {StatusLinkSent: true, StatusExpired: true, StatusPaid: true, StatusCanceled: true},
	StatusLinkSent:    {StatusExpired: true, StatusPaid: true, StatusCanceled: true},
	StatusPaid:        {},
	StatusFailedParse: {},
	StatusOutOfStock:  {},
	StatusExpired:     {},
	StatusCanceled:    {},
	StatusWaitlist:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Transition moves the claim forward or fails without touching it.
func (c *Claim) Transition(to Status) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}
