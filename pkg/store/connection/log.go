/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import "github.com/hyperledger/aries-framework-go/component/log"

var logger = log.New("didcomm-engine/store/connection")
