package export

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
)

// tarManifest is the single entry of the top-level manifest.json array in
// a docker-save tarball.
type tarManifest struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// layerMeta is the minimal per-layer json metadata the legacy format
// requires. Fields docker no longer reads are omitted.
type layerMeta struct {
	Id      string `json:"id"`
	Parent  string `json:"parent,omitempty"`
	Created string `json:"created"`
}

// SaveAsTarball writes the image at 'mh' to the passed path as a legacy
// docker-save tar archive: one directory per layer named by the first 12
// hex characters of the layer digest holding VERSION, json, and layer.tar
// (decompressed - the legacy format stores plain tars), plus the config
// json, manifest.json, and the repositories file.
func SaveAsTarball(ctx context.Context, src BlobSource, mh *manifest.Holder, ref imageref.ImageReference, path string) error {
	if err := requireImage(mh); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	tw := tar.NewWriter(f)

	configBytes, err := src(ctx, mh.Im.Config.Digest)
	if err != nil {
		return err
	}
	configName := digest.Digest(mh.Im.Config.Digest).Encoded() + ".json"
	if err := writeTarFile(tw, configName, configBytes); err != nil {
		return err
	}

	tm := tarManifest{Config: configName, RepoTags: []string{repoTag(ref)}}
	parent := ""
	topLayerId := ""
	for _, layer := range mh.Im.Layers {
		if manifest.IsForeignLayer(layer) {
			log.Infof("skipping foreign layer %s", layer.Digest)
			continue
		}
		layerBytes, err := src(ctx, layer.Digest)
		if err != nil {
			return err
		}
		if codec.IsGzip(layerBytes) {
			layerBytes, err = codec.Gunzip(layerBytes)
			if err != nil {
				return fmt.Errorf("error decompressing layer %s: %w", layer.Digest, err)
			}
		}
		id := digest.Digest(layer.Digest).Encoded()[:12]
		meta, err := json.Marshal(layerMeta{Id: id, Parent: parent, Created: time.Unix(0, 0).UTC().Format(time.RFC3339)})
		if err != nil {
			return err
		}
		if err := writeTarDir(tw, id); err != nil {
			return err
		}
		if err := writeTarFile(tw, id+"/VERSION", []byte("1.0")); err != nil {
			return err
		}
		if err := writeTarFile(tw, id+"/json", meta); err != nil {
			return err
		}
		if err := writeTarFile(tw, id+"/layer.tar", layerBytes); err != nil {
			return err
		}
		tm.Layers = append(tm.Layers, id+"/layer.tar")
		parent = id
		topLayerId = id
	}

	manifestBytes, err := json.Marshal([]tarManifest{tm})
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}
	tag := ref.Reference
	if ref.RefType == imageref.ByDigest {
		tag = "latest"
	}
	repositories, err := json.Marshal(map[string]map[string]string{
		ref.Repository: {tag: topLayerId},
	})
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "repositories", repositories); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	log.Infof("wrote tarball for %s to %s", ref.Url(), path)
	return nil
}

func repoTag(ref imageref.ImageReference) string {
	if ref.RefType == imageref.ByDigest {
		return ref.Repository + ":latest"
	}
	return ref.Repository + ":" + ref.Reference
}

func writeTarDir(tw *tar.Writer, name string) error {
	return tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name + "/",
		Mode:     0755,
	})
}

func writeTarFile(tw *tar.Writer, name string, body []byte) error {
	err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0644,
		Size:     int64(len(body)),
	})
	if err != nil {
		return err
	}
	_, err = tw.Write(body)
	return err
}
