// Package mock runs an in-memory OCI distribution server for the tests.
// Manifests and blobs are seeded on a source instance and pushed to a
// destination instance, with knobs to exercise redirects, slow links, and
// the protocol failure paths.
package mock
