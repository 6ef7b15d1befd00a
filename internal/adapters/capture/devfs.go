package capture

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	videoNode = regexp.MustCompile(`^video\d+$`)
	pcmNode   = regexp.MustCompile(`^pcmC(\d+)D(\d+)c$`)
)

// DevfsDirectory lists V4L2 video nodes and ALSA capture nodes under root
// and watches them with fsnotify.
type DevfsDirectory struct {
	root    string
	watcher *fsnotify.Watcher
	watch   listeners
	done    chan struct{}
	logger  zerolog.Logger
}

// NewDevfsDirectory watches root/dev and root/dev/snd. root is "/" outside tests.
func NewDevfsDirectory(root string) (*DevfsDirectory, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	d := &DevfsDirectory{
		root:    root,
		watcher: w,
		done:    make(chan struct{}),
		logger:  log.With().Str("module", "adapters.capture.devfs").Str("root", root).Logger(),
	}
	for _, dir := range []string{d.path("dev"), d.path("dev", "snd")} {
		if err := w.Add(dir); err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("not watching")
		}
	}
	go d.run()
	return d, nil
}

func (d *DevfsDirectory) path(elem ...string) string {
	return filepath.Join(append([]string{d.root}, elem...)...)
}

func (d *DevfsDirectory) run() {
	defer close(d.done)
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !videoNode.MatchString(name) && !pcmNode.MatchString(name) {
				continue
			}
			d.logger.Info().Str("node", name).Str("op", ev.Op.String()).Msg("device node changed")
			d.watch.notify()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error().Err(err).Msg("watch error")
		}
	}
}

func (d *DevfsDirectory) List(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Device

	entries, err := os.ReadDir(d.path("dev"))
	if err != nil {
		return nil, fmt.Errorf("read dev: %w", err)
	}
	for _, e := range entries {
		if videoNode.MatchString(e.Name()) {
			out = append(out, domain.Device{ID: domain.DeviceID(e.Name()), Label: d.videoLabel(e.Name()), Kind: domain.DeviceKindVideo})
		}
	}

	// No sound subsystem is not an error.
	if entries, err := os.ReadDir(d.path("dev", "snd")); err == nil {
		for _, e := range entries {
			if m := pcmNode.FindStringSubmatch(e.Name()); m != nil {
				out = append(out, domain.Device{ID: domain.DeviceID(e.Name()), Label: d.audioLabel(m[1], m[2]), Kind: domain.DeviceKindAudio})
			}
		}
	}

	slices.SortFunc(out, func(a, b domain.Device) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (d *DevfsDirectory) videoLabel(node string) string {
	if b, err := os.ReadFile(d.path("sys", "class", "video4linux", node, "name")); err == nil {
		if name := strings.TrimSpace(string(b)); name != "" {
			return name
		}
	}
	return "Camera " + node
}

func (d *DevfsDirectory) audioLabel(card, dev string) string {
	if b, err := os.ReadFile(d.path("proc", "asound", "card"+card, "id")); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return fmt.Sprintf("%s (device %s)", id, dev)
		}
	}
	return fmt.Sprintf("Microphone card %s device %s", card, dev)
}

func (d *DevfsDirectory) Watch(cb func()) func() { return d.watch.add(cb) }

func (d *DevfsDirectory) Close() error {
	err := d.watcher.Close()
	<-d.done
	return err
}
