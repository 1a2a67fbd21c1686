package subcmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"imgsync/impl/config"
	"imgsync/mock"
)

func TestSyncCommand(t *testing.T) {
	src := mock.Server()
	defer src.Close()
	dest := mock.Server()
	defer dest.Close()
	testConfig(t, src, dest)
	seeded := src.SeedImage("frobozz/busybox", "v1", []byte("layer one"))

	err := Sync([]string{
		fmt.Sprintf("%s/frobozz/busybox:v1", src.Url),
		fmt.Sprintf("%s/frobozz/busybox:v1", dest.Url),
	})
	if err != nil {
		t.Fatalf("sync command failed: %s", err)
	}
	if !bytes.Equal(dest.GetManifest("frobozz/busybox", "v1"), seeded.ManifestBytes) {
		t.Error("manifest was not replicated")
	}
}

func TestSyncCommandArgValidation(t *testing.T) {
	testConfig(t)
	if err := Sync([]string{"only-one-arg"}); err == nil {
		t.Error("expected an error for missing destination")
	}
}

func TestSyncCommandImageFile(t *testing.T) {
	src := mock.Server()
	defer src.Close()
	dest := mock.Server()
	defer dest.Close()
	testConfig(t, src, dest)
	one := src.SeedImage("frobozz/one", "v1", []byte("one"))
	two := src.SeedImage("frobozz/two", "v2", []byte("two"))

	imageFile := filepath.Join(t.TempDir(), "images")
	contents := fmt.Sprintf("# images to replicate\n%s/frobozz/one:v1 %s/frobozz/one:v1\n\n%s/frobozz/two:v2 %s/frobozz/two:v2\n",
		src.Url, dest.Url, src.Url, dest.Url)
	if err := os.WriteFile(imageFile, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Get()
	cfg.ImageFile = imageFile
	config.Set(cfg)

	if err := Sync(nil); err != nil {
		t.Fatalf("batch sync failed: %s", err)
	}
	if !bytes.Equal(dest.GetManifest("frobozz/one", "v1"), one.ManifestBytes) {
		t.Error("first image was not replicated")
	}
	if !bytes.Equal(dest.GetManifest("frobozz/two", "v2"), two.ManifestBytes) {
		t.Error("second image was not replicated")
	}
}

func TestSyncCommandBatchContinuesOnError(t *testing.T) {
	src := mock.Server()
	defer src.Close()
	dest := mock.Server()
	defer dest.Close()
	testConfig(t, src, dest)
	good := src.SeedImage("frobozz/good", "v1", []byte("fine"))

	imageFile := filepath.Join(t.TempDir(), "images")
	contents := fmt.Sprintf("%s/frobozz/missing:v1 %s/frobozz/missing:v1\n%s/frobozz/good:v1 %s/frobozz/good:v1\n",
		src.Url, dest.Url, src.Url, dest.Url)
	if err := os.WriteFile(imageFile, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Get()
	cfg.ImageFile = imageFile
	config.Set(cfg)

	err := Sync(nil)
	if err == nil {
		t.Fatal("expected the batch to report the failed image")
	}
	// the failure of the first image must not strand the second
	if !bytes.Equal(dest.GetManifest("frobozz/good", "v1"), good.ManifestBytes) {
		t.Error("good image was not replicated after the bad one failed")
	}
}
