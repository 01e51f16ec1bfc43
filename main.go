// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Loragate - LoRa Telemetry Gateway
//
// Receives sensor records from a remote node through an RYLR998-class
// modem, acknowledges them and republishes them as line-delimited JSON.

package main

import (
	"os"

	"github.com/loragate/loragate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
