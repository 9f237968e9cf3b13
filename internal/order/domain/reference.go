package domain

import (
	"strconv"
	"strings"
	"time"
)

const referencePrefix = "ORD-"

// NewReference builds a payment reference of the form ORD-<orderID>-<nonce>.
// The order id may itself contain dashes; the nonce never does, so the id is
// recovered by cutting at the last dash.
func NewReference(orderID string, at time.Time) string {
	return referencePrefix + orderID + "-" + strconv.FormatInt(at.UnixNano(), 10)
}

// OrderIDFromReference reverses NewReference.
func OrderIDFromReference(ref string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, referencePrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 || i == len(rest)-1 {
		return "", false
	}
	if _, err := strconv.ParseInt(rest[i+1:], 10, 64); err != nil {
		return "", false
	}
	return rest[:i], true
}
