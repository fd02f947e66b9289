// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package oxalis implements the outbound side of a PEPPOL access point: it
turns a business document into a fully addressed transmission request.

# Overview

An outbound transmission needs four things before any bytes go on the wire:
who sends, who receives, what kind of document it is and where the
receiver's access point lives. oxalis derives the first three from the
Standard Business Document Header (SBDH) or the eDelivery XHE envelope that
wraps the payload, or by sniffing a bare UBL document, and finds the fourth
through the PEPPOL network's two-step lookup: a DNS query against the SML
(BDXL NAPTR or legacy BusDox CNAME) locates the receiver's SMP, and the SMP's
ServiceMetadata names the endpoint, transport profile and certificate.

# Package Structure

	github.com/rdehuyss/oxalis/pkg/identifier   - Participant, document type and process identifiers
	github.com/rdehuyss/oxalis/pkg/sbdh         - SBDH/XHE header extraction and UBL sniffing
	github.com/rdehuyss/oxalis/pkg/lookup       - Endpoint model, caching resolver, certificate checks
	github.com/rdehuyss/oxalis/pkg/discovery    - BDXL/BusDox SML locators and SMP client
	github.com/rdehuyss/oxalis/pkg/transmission - Transmission request builder

The service wiring lives under internal/: configuration, the transmission
journal (in memory or MongoDB), the outbound service and its HTTP API. The
accesspoint command in cmd/accesspoint runs the API and offers lookup and
configuration checks from the shell.

# Quick Start

To build a transmission request from an SBDH-wrapped document:

	import (
	    "bytes"

	    "github.com/rdehuyss/oxalis/pkg/discovery"
	    "github.com/rdehuyss/oxalis/pkg/lookup"
	    "github.com/rdehuyss/oxalis/pkg/sbdh"
	    "github.com/rdehuyss/oxalis/pkg/transmission"
	)

	locator, _ := discovery.NewBDXLLocator(discovery.BDXLConfig{
	    Domain: "acc.edelivery.tech.ec.europa.eu",
	})
	dir, _ := discovery.NewDirectory(discovery.Config{Locator: locator})
	resolver, _ := lookup.NewResolver(dir, nil)

	builder := transmission.NewBuilder(sbdh.NewExtractor(), resolver)
	req, err := builder.Payload(bytes.NewReader(document)).Build(ctx)

# Modes

In production mode the header found in the payload is authoritative and
attempts to override sender, receiver, document type or process are
rejected. Test mode permits those overrides, which is how test tooling sends
to a fixed endpoint without rewriting documents.

# References

  - PEPPOL eDelivery: https://docs.peppol.eu/edelivery/
  - PEPPOL Policy for use of Identifiers: https://docs.peppol.eu/edelivery/policies/PEPPOL-EDN-Policy-for-use-of-identifiers-4.2.0-2023-06.pdf
  - OASIS BDXL 1.0: https://docs.oasis-open.org/bdxr/BDX-Location/v1.0/BDX-Location-v1.0.html
  - OASIS SMP 1.0: https://docs.oasis-open.org/bdxr/bdx-smp/v1.0/bdx-smp-v1.0.html

# License

BSD-2-Clause License
*/
package oxalis
