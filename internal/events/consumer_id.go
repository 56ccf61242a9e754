package events

import (
	"os"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process within the usage_ledger consumer
// group. Restarts get a new name; entries left pending by the previous
// one are picked up by XAUTOCLAIM.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return strings.Join([]string{host, strconv.Itoa(os.Getpid()), strings.ToLower(ulid.Make().String()[20:])}, "-")
}
