package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/magiconair/properties"
	"pkg.re/essentialkaos/ek.v12/fsutil"

	"github.com/sephiroth74/go_permission_controller/logging"
)

var log = logging.GetLogger("prefs")

const setSeparator = ","

// Preferences is a small key/value store persisted as a properties file.
// Reads never fail, a missing or unreadable file is an empty store.
type Preferences struct {
	mu    sync.Mutex
	path  string
	props *properties.Properties
}

// Open loads the preferences stored at path. An empty path gives an in-memory store
// whose Commit does nothing.
func Open(path string) *Preferences {
	p := &Preferences{path: path, props: properties.NewProperties()}
	if data := ReadStoredFile(path); data != nil {
		props, err := properties.Load(data, properties.UTF8)
		if err != nil {
			log.Error().Err(err).Msgf("failed to read %s, starting empty", path)
		} else {
			p.props = props
		}
	}
	p.props.DisableExpansion = true
	return p
}

func (p *Preferences) Path() string {
	return p.path
}

func (p *Preferences) GetString(key string, def string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props.GetString(key, def)
}

func (p *Preferences) PutString(key string, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(key, value)
}

// GetStringSet returns the sorted members of the set stored at key
func (p *Preferences) GetStringSet(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.props.Get(key)
	if !ok || value == "" {
		return nil
	}
	return strings.Split(value, setSeparator)
}

func (p *Preferences) PutStringSet(key string, values []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := make(map[string]bool, len(values))
	var sorted []string
	for _, v := range values {
		if v == "" || set[v] {
			continue
		}
		set[v] = true
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	p.set(key, strings.Join(sorted, setSeparator))
}

// GetInt64 returns def when the key is missing or does not hold a number
func (p *Preferences) GetInt64(key string, def int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.props.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Warn().Msgf("%s is not a number: %q", key, value)
		return def
	}
	return n
}

func (p *Preferences) PutInt64(key string, value int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(key, strconv.FormatInt(value, 10))
}

func (p *Preferences) Contains(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.props.Get(key)
	return ok
}

func (p *Preferences) Remove(keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range keys {
		p.props.Delete(key)
	}
}

func (p *Preferences) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props.Keys()
}

// Clear removes every key
func (p *Preferences) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props = properties.NewProperties()
	p.props.DisableExpansion = true
}

func (p *Preferences) set(key string, value string) {
	if _, _, err := p.props.Set(key, value); err != nil {
		log.Error().Err(err).Msgf("failed to set %s", key)
	}
}

// Commit writes the store to its file. The file is replaced atomically, a crash never
// leaves a partially written store behind.
func (p *Preferences) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return nil
	}
	return atomicWrite(p.path, func(f *os.File) error {
		_, err := p.props.Write(f, properties.UTF8)
		return err
	})
}

// Apply is Commit with the error logged instead of returned
func (p *Preferences) Apply() {
	if err := p.Commit(); err != nil {
		log.Error().Err(err).Msgf("failed to write %s", p.path)
	}
}

// ReadStoredFile returns the content of a persisted file, nil when there is no path or
// the file is missing or empty. An unreadable file is logged and read as missing.
func ReadStoredFile(path string) []byte {
	if path == "" || !fsutil.IsExist(path) || !fsutil.IsNonEmpty(path) {
		return nil
	}
	if !fsutil.IsReadable(path) {
		log.Error().Msgf("%s is not readable, ignoring it", path)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Msgf("failed to read %s", path)
		return nil
	}
	return data
}

func atomicWrite(target string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	if !fsutil.IsWritable(dir) {
		return fmt.Errorf("%s is not writable", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	d.Sync()
	return nil
}

// WriteFileAtomic replaces the file at path with data using the same temporary file
// and rename sequence as Commit
func WriteFileAtomic(path string, data []byte) error {
	return atomicWrite(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}
