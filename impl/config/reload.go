package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounce window for file system notifications - editors and config
// management tools emit several events for one logical save
var reloadWait = 100 * time.Millisecond

// StartReload watches the currently loaded configuration file and re-parses
// it whenever it changes, so registry credentials and queue tuning can be
// updated without a restart. The parent directory is watched rather than the
// file because most writers replace the file (losing the inode the watch was
// on). Returns a stop function that ends the watch.
func StartReload() (func(), error) {
	configFile := GetConfigFile()
	if configFile == "" {
		return nil, errors.New("no configuration file is loaded")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		watcher.Close()
		return nil, err
	}
	var mu sync.Mutex
	var timer *time.Timer
	go func() {
		for {
			select {
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watch error: %s", err)
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if filepath.Clean(event.Name) != filepath.Clean(configFile) {
					continue
				}
				mu.Lock()
				if timer == nil {
					timer = time.AfterFunc(reloadWait, func() {
						reload(configFile)
						mu.Lock()
						timer = nil
						mu.Unlock()
					})
				} else {
					timer.Reset(reloadWait)
				}
				mu.Unlock()
			}
		}
	}()
	log.Infof("watching configuration file %s for changes", configFile)
	return func() { watcher.Close() }, nil
}

func reload(configFile string) {
	if err := Load(configFile); err != nil {
		log.Errorf("unable to reload configuration: %s", err)
		return
	}
	log.Infof("reloaded configuration from %s", configFile)
}
