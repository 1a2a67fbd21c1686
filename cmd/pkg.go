/*
Imgsync replicates container images between OCI distribution registries:
given a source reference and a destination reference it fetches the
manifest (or multi-platform index), streams every blob across, and
republishes the manifest byte-for-byte at the destination.

Usage:

	imgsync [global flags] COMMAND [command flags] [args]

Commands:

	sync SOURCE DESTINATION
		Replicates one image, e.g.:
		imgsync sync quay.io/frobozz/busybox:v1 localhost:5000/frobozz/busybox:v1
		With --image-file, replicates every 'source destination' line in the file.

	save SOURCE PATH
		Pulls an image and writes it to local disk as an OCI image layout
		directory (--format oci, the default) or a legacy docker-save
		archive (--format tarball).

	serve
		Runs a REST API server accepting replication requests:
		POST /v1/sync, GET /v1/metrics, GET /metrics (prometheus), GET /health.

	version
		Displays the version and exits.

Registry credentials, per-registry TLS, and work queue tuning come from the
file given with --config-file, which is watched and hot-reloaded while
serving. Command line flags override file settings.
*/
package main
