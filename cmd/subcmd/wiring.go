// Package subcmd implements the sync, save, and serve sub-commands around
// the core replication packages, wired from the global configuration.
package subcmd

import (
	"fmt"

	"imgsync/impl/config"
	"imgsync/impl/imageref"
	"imgsync/impl/regclient"
	"imgsync/impl/syncer"
	"imgsync/impl/workqueue"
)

// newSyncer builds the work queue and syncer from the global configuration.
// The caller owns the returned queue and must close it.
func newSyncer() (*syncer.Syncer, *workqueue.Queue) {
	queueCfg := config.GetQueue()
	q := workqueue.New(workqueue.Opts{
		MaxQueueSize: int(queueCfg.MaxSize),
		Concurrency:  int(queueCfg.Concurrency),
		MemThreshold: uint64(queueCfg.MemThreshold),
	})
	s := syncer.New(q, syncer.Opts{
		MaxBlobSize:  config.GetMaxBlobSize(),
		TempDir:      config.GetTempDir(),
		RegistryOpts: registryOpts,
	})
	return s, q
}

// registryOpts maps the config section for the passed registry host to
// protocol client options. An unconfigured registry gets anonymous https.
func registryOpts(registry string) regclient.Opts {
	rc := config.RegistryFor(registry)
	opts := regclient.Opts{Scheme: rc.Scheme}
	if rc.Tls != (config.TlsConfig{}) {
		opts.TlsConfig = &regclient.TlsOpts{
			Cert:               rc.Tls.Cert,
			Key:                rc.Tls.Key,
			CA:                 rc.Tls.CA,
			InsecureSkipVerify: rc.Tls.InsecureSkipVerify,
		}
	}
	return opts
}

// parseRef parses an image url like 'quay.io/frobozz/busybox:v1.2.3' and
// attaches the credential configured for its registry.
func parseRef(raw string) (imageref.ImageReference, error) {
	ref, err := imageref.Parse(raw)
	if err != nil {
		return imageref.ImageReference{}, fmt.Errorf("unable to parse image reference %q: %w", raw, err)
	}
	auth := config.RegistryFor(ref.Registry).Auth
	return ref.WithCredential(imageref.Credential{
		User:     auth.User,
		Password: auth.Password,
		Token:    auth.Token,
	}), nil
}

// newClient builds a protocol client for the passed reference's registry,
// outside the syncer (the save path talks to one registry directly).
func newClient(ref imageref.ImageReference) (*regclient.Client, error) {
	return regclient.New(ref.Registry, ref.Credential, registryOpts(ref.Registry))
}
