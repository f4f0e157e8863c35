// Package util holds small file and string helpers shared by the stablemock packages.
//
//   - WriteFileAtomic: temp file plus rename, so readers never see a partial file
//   - SafePathComponent: reject test identifiers that would escape their directory
//   - Truncate: cap values before they reach a log line
package util
