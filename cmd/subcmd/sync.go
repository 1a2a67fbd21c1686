package subcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"imgsync/impl/config"
	"imgsync/impl/syncer"

	log "github.com/sirupsen/logrus"
)

// Sync runs the sync sub-command: replicate the source image given in
// args[0] to the destination given in args[1], or - with --image-file -
// every 'source destination' line in the file. CTRL-C cancels in-flight
// transfers.
func Sync(args []string) error {
	mode, err := syncer.ParseMode(config.GetMode())
	if err != nil {
		return err
	}
	pairs, err := syncPairs(args)
	if err != nil {
		return err
	}
	s, q := newSyncer()
	defer q.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failures := 0
	for _, pair := range pairs {
		src, err := parseRef(pair[0])
		if err != nil {
			return err
		}
		dest, err := parseRef(pair[1])
		if err != nil {
			return err
		}
		if err := s.SyncImage(ctx, src, dest, mode); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("interrupted: %w", err)
			}
			// batch mode keeps going so one bad image doesn't strand the rest
			failures++
			continue
		}
		log.Infof("synced %s to %s", src.Url(), dest.Url())
	}
	if failures != 0 {
		return fmt.Errorf("%d of %d images failed to sync", failures, len(pairs))
	}
	return nil
}

// syncPairs returns the source/destination pairs to replicate: the two
// positional args, or the lines of the --image-file file. Blank lines and
// '#' comments in the file are ignored.
func syncPairs(args []string) ([][2]string, error) {
	if config.GetImageFile() == "" {
		if len(args) != 2 {
			return nil, fmt.Errorf("the sync command needs a source and a destination image reference")
		}
		return [][2]string{{args[0], args[1]}}, nil
	}
	contents, err := os.ReadFile(config.GetImageFile())
	if err != nil {
		return nil, fmt.Errorf("error reading image file: %s", err)
	}
	var pairs [][2]string
	for i, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("image file line %d: expected 'source destination', got %q", i+1, line)
		}
		pairs = append(pairs, [2]string{fields[0], fields[1]})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("image file %s has no images", config.GetImageFile())
	}
	return pairs, nil
}
