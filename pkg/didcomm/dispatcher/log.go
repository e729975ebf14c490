/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import "github.com/hyperledger/aries-framework-go/component/log"

var logger = log.New("didcomm-engine/dispatcher")
