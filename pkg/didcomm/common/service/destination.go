/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import "errors"

// Destination provides the recipient keys and service endpoints for an outbound
// message. ServiceEndpoints are in preference order: a sender tries each in turn
// until one delivery succeeds.
type Destination struct {
	RecipientKeys        []string
	ServiceEndpoints     []string
	RoutingKeys          []string
	TransportReturnRoute string
}

// ErrMissingEndpoint is returned when a destination carries no service endpoint.
var ErrMissingEndpoint = errors.New("destination missing service endpoint")

// Validate checks that the destination is usable for delivery.
func (d *Destination) Validate() error {
	if d == nil || len(d.ServiceEndpoints) == 0 {
		return ErrMissingEndpoint
	}

	return nil
}
