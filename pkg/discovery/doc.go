// Package discovery finds the access point of a PEPPOL participant through
// the SML and the participant's SMP.
//
// # Discovery Process
//
//  1. Locate: the participant identifier is mapped onto a DNS name in the SML
//     zone. The PEPPOL BDXL scheme hashes the lower-cased value with SHA-256,
//     BASE32 encodes it without padding and queries U-NAPTR records at
//
//     <hash>.<scheme>.<sml-domain>
//
//     The legacy BusDox scheme uses "B-" + hex(MD5) as a host name instead.
//
//  2. Query: the SMP is asked for the ServiceMetadata of the participant and
//     document type (OASIS SMP 1.0 HTTP binding):
//
//     <smp>/<participant scheme::value>/services/<document scheme::value>
//
//  3. Select: within the requested process, the first active endpoint whose
//     transport profile appears in the preference list wins.
//
// [Directory] implements lookup.Directory so it can sit behind a
// lookup.Resolver. Its failures carry the lookup error kinds: an SML miss or
// an SMP without a service group is an unknown participant, an unpublished
// document type or process is an unsupported service, and DNS or SMP
// outages are transient.
//
// # Usage
//
//	locator, err := discovery.NewBDXLLocator(discovery.BDXLConfig{Domain: discovery.SMLTest})
//	if err != nil {
//	    return err
//	}
//	dir, err := discovery.NewDirectory(discovery.Config{Locator: locator})
//	if err != nil {
//	    return err
//	}
//	resolver, err := lookup.NewResolver(dir, nil)
//
// # References
//
//   - PEPPOL Policy for use of Identifiers 4.x
//   - OASIS BDX-Location 1.0: http://docs.oasis-open.org/bdxr/BDX-Location/v1.0/
//   - OASIS SMP 1.0: http://docs.oasis-open.org/bdxr/bdx-smp/v1.0/
//   - RFC 4848: https://www.rfc-editor.org/rfc/rfc4848.html
package discovery
