package validator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/text/cases"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
)

// Dictionary answers whether a word is known.
type Dictionary interface {
	Has(word string) bool
}

// fold returns the case-folded form used as dictionary key. A Caser keeps
// state, so each call gets its own.
func fold(word string) string {
	return cases.Fold().String(word)
}

// WordList is a case-insensitive set of words. It is immutable after
// construction and safe for concurrent reads.
type WordList struct {
	words map[string]struct{}
}

// NewWordList builds a word list.
func NewWordList(words ...string) *WordList {
	wl := &WordList{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			wl.words[fold(w)] = struct{}{}
		}
	}
	return wl
}

// ReadWordList reads one word per line. Blank lines and lines starting with
// # are skipped; anything after a / (affix flags) is dropped.
func ReadWordList(r io.Reader) (*WordList, error) {
	var words []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '/'); i >= 0 {
			line = line[:i]
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewWordList(words...), nil
}

// Has reports whether word is in the list, ignoring case.
func (wl *WordList) Has(word string) bool {
	if wl == nil {
		return false
	}
	_, ok := wl.words[fold(word)]
	return ok
}

// Len returns the number of distinct words.
func (wl *WordList) Len() int {
	if wl == nil {
		return 0
	}
	return len(wl.words)
}

// Union is known when any member knows the word.
type Union []Dictionary

// Has implements Dictionary.
func (u Union) Has(word string) bool {
	for _, d := range u {
		if d != nil && d.Has(word) {
			return true
		}
	}
	return false
}

// wordSets is the per-snapshot dictionary state.
type wordSets struct {
	known  Dictionary
	ignore *WordList
	flag   *WordList
}

// dictionaries builds and caches the word sets of settings snapshots.
// Dictionary files are cached by path and modification time.
type dictionaries struct {
	fs   loader.FileSystem
	base Dictionary
	log  *logging.Logger

	sets  *ttlcache.Cache[uint64, *wordSets]
	files *ttlcache.Cache[string, fileEntry]
	mu    sync.Mutex
}

type fileEntry struct {
	modTime time.Time
	words   *WordList
}

const dictionaryTTL = 10 * time.Minute

func newDictionaries(fsys loader.FileSystem, base Dictionary, log *logging.Logger) *dictionaries {
	return &dictionaries{
		fs:   fsys,
		base: base,
		log:  log,
		sets: ttlcache.New[uint64, *wordSets](
			ttlcache.WithTTL[uint64, *wordSets](dictionaryTTL),
			ttlcache.WithCapacity[uint64, *wordSets](64),
		),
		files: ttlcache.New[string, fileEntry](
			ttlcache.WithTTL[string, fileEntry](dictionaryTTL),
			ttlcache.WithCapacity[string, fileEntry](256),
		),
	}
}

// forSettings returns the word sets for s.
func (d *dictionaries) forSettings(s config.Settings) *wordSets {
	key := settingsKey(s)
	if item := d.sets.Get(key); item != nil {
		return item.Value()
	}

	known := Union{d.base, NewWordList(append(append([]string(nil), s.Words...), s.UserWords...)...)}
	for _, def := range enabledDefinitions(s) {
		path := def.Path
		if !filepath.IsAbs(path) && s.Source != "" {
			path = filepath.Join(filepath.Dir(s.Source), path)
		}
		wl, err := d.file(path)
		if err != nil {
			d.log.WithField("dictionary", def.Name).Warn("loading %s: %v", path, err)
			continue
		}
		known = append(known, wl)
	}

	sets := &wordSets{
		known:  known,
		ignore: NewWordList(s.IgnoreWords...),
		flag:   NewWordList(s.FlagWords...),
	}
	d.sets.Set(key, sets, ttlcache.DefaultTTL)
	return sets
}

// file loads a word list file, reusing the cached copy while its
// modification time is unchanged.
func (d *dictionaries) file(path string) (*WordList, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if item := d.files.Get(path); item != nil && item.Value().modTime.Equal(info.ModTime()) {
		return item.Value().words, nil
	}
	data, err := d.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wl, err := ReadWordList(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading word list: %w", err)
	}
	d.files.Set(path, fileEntry{modTime: info.ModTime(), words: wl}, ttlcache.DefaultTTL)
	d.log.Debug("loaded %d words from %s", wl.Len(), path)
	return wl, nil
}

// reset drops cached word sets; file entries stay valid through their
// modification time check.
func (d *dictionaries) reset() {
	d.sets.DeleteAll()
}

// enabledDefinitions returns the definitions named in s.Dictionaries, or
// every definition when no dictionaries are named.
func enabledDefinitions(s config.Settings) []config.DictionaryDefinition {
	if len(s.Dictionaries) == 0 {
		return s.DictionaryDefinitions
	}
	enabled := make(map[string]bool, len(s.Dictionaries))
	for _, name := range s.Dictionaries {
		enabled[strings.TrimPrefix(name, "!")] = !strings.HasPrefix(name, "!")
	}
	var defs []config.DictionaryDefinition
	for _, def := range s.DictionaryDefinitions {
		if enabled[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}

// settingsKey hashes the word-related fields of s.
func settingsKey(s config.Settings) uint64 {
	h := xxhash.New()
	write := func(label string, values []string) {
		_, _ = h.WriteString(label)
		for _, v := range values {
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(v)
		}
		_, _ = h.WriteString("\x01")
	}
	write("words", s.Words)
	write("user", s.UserWords)
	write("ignore", s.IgnoreWords)
	write("flag", s.FlagWords)
	write("dicts", s.Dictionaries)
	for _, def := range s.DictionaryDefinitions {
		write("def", []string{def.Name, def.Path})
	}
	write("source", []string{s.Source})
	return h.Sum64()
}
