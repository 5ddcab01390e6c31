package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Credential keys the agent reads from its ENV file.
const (
	KeyLLMToken     = "OPEN_API_KEY"    // LLM bearer token
	KeyGatewayToken = "DISCORD_BOT_KEY" // chat-gateway token
)

// envFileCacheSize bounds the process-wide parsed-file cache.
const envFileCacheSize = 100

// EnvFile is one parsed key/value credential file. Records are `KEY = VALUE`
// lines; `//` starts a comment line; values that are exactly `%NAME%` are
// replaced by the environment variable NAME at parse time. Unrecognised keys
// are retained and typed on access.
type EnvFile struct {
	values map[string]string
}

var (
	lineRgx = regexp.MustCompile(`^\s*(.+?)\s*=\s*(.+?)\s*$`)
	envRgx  = regexp.MustCompile(`^%(\w+)%$`)
)

// ParseEnvFile reads and parses path. Malformed lines are logged and
// skipped; only an unreadable file is an error.
func ParseEnvFile(path string, logger *slog.Logger) (*EnvFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &EnvFile{values: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "//") {
			continue
		}
		m := lineRgx.FindStringSubmatch(line)
		if m == nil {
			logger.Warn("malformed config line skipped", "path", path, "line", lineNo)
			continue
		}
		cfg.values[m[1]] = expandValue(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// expandValue substitutes a value that is exactly %NAME% with the
// environment variable NAME; a missing variable becomes the empty string.
func expandValue(v string) string {
	if m := envRgx.FindStringSubmatch(strings.TrimSpace(v)); m != nil {
		return os.Getenv(m[1])
	}
	return v
}

// Str returns a string value and whether the key exists.
func (e *EnvFile) Str(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Int returns an integer value; ok is false when the key is absent or the
// value does not parse.
func (e *EnvFile) Int(key string) (int, bool) {
	v, ok := e.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns every key present in the file.
func (e *EnvFile) Keys() []string {
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	return keys
}

// envFileCache is the process-wide LRU of parsed files, keyed by the
// lowercased absolute path.
var envFileCache = struct {
	sync.Mutex
	entries map[string]*EnvFile
	order   []string
}{entries: make(map[string]*EnvFile)}

// LoadEnvFile returns the parsed file for path, from cache when it has been
// read before in this process.
func LoadEnvFile(path string, logger *slog.Logger) (*EnvFile, error) {
	key, err := cacheKey(path)
	if err != nil {
		return nil, err
	}

	envFileCache.Lock()
	if cached, ok := envFileCache.entries[key]; ok {
		touch(key)
		envFileCache.Unlock()
		return cached, nil
	}
	envFileCache.Unlock()

	return reloadLocked(path, key, logger)
}

// ReloadEnvFile re-reads path, bypassing and refreshing the cache.
func ReloadEnvFile(path string, logger *slog.Logger) (*EnvFile, error) {
	key, err := cacheKey(path)
	if err != nil {
		return nil, err
	}
	return reloadLocked(path, key, logger)
}

func cacheKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path %s: %w", path, err)
	}
	return strings.ToLower(abs), nil
}

func reloadLocked(path, key string, logger *slog.Logger) (*EnvFile, error) {
	cfg, err := ParseEnvFile(path, logger)
	if err != nil {
		return nil, err
	}
	envFileCache.Lock()
	defer envFileCache.Unlock()
	if _, existed := envFileCache.entries[key]; !existed && len(envFileCache.order) >= envFileCacheSize {
		oldest := envFileCache.order[0]
		envFileCache.order = envFileCache.order[1:]
		delete(envFileCache.entries, oldest)
	}
	envFileCache.entries[key] = cfg
	touch(key)
	return cfg, nil
}

// touch moves key to the most-recent end of the eviction order. Caller
// holds the cache lock.
func touch(key string) {
	for i, k := range envFileCache.order {
		if k == key {
			envFileCache.order = append(envFileCache.order[:i], envFileCache.order[i+1:]...)
			break
		}
	}
	envFileCache.order = append(envFileCache.order, key)
}
