// Package config loads stablemock settings.
//
// Values come from several sources, highest precedence first:
//   - command-line flags (applied by the CLI)
//   - STABLEMOCK_* environment variables
//   - the config file (stablemock.yaml, stablemock.yml or stablemock.json)
//   - built-in defaults
//
// Sources records where each value came from, keyed by its dotted name.
//
// A minimal file:
//
//	mode: RECORD
//	root: testdata/stablemock
//	detection:
//	  sampleCap: 20
//	  minConfidence: MEDIUM
//	tests:
//	  - class: OrderServiceTest
//	    method: createsOrder
//	    ignore: ["json:meta.requestId"]
package config
