package bridge

import (
	"fmt"
	"regexp"
)

var routingKeyRegex = regexp.MustCompile(`^\w+(\.\w+)*$`)

// RoutingKey represents an AMQP routing key on the topic exchange
type RoutingKey string

// Validate checks that the key is a dot-separated list of words
func (k RoutingKey) Validate() error {
	if !routingKeyRegex.MatchString(string(k)) {
		return fmt.Errorf("RoutingKey: '%s' is not a valid routing key", string(k))
	}

	return nil
}
