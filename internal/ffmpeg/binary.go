// Package ffmpeg locates the FFmpeg binary and runs it as an audio
// transcoder for playlist playback.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryEnvVar overrides the ffmpeg binary location.
const BinaryEnvVar = "RADIARR_FFMPEG_BINARY"

// BinaryInfo describes the detected FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the named encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector detects the FFmpeg binary and caches the result.
type BinaryDetector struct {
	configuredPath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. A non-empty configuredPath takes
// precedence over the environment and PATH.
func NewBinaryDetector(configuredPath string) *BinaryDetector {
	return &BinaryDetector{
		configuredPath: configuredPath,
		cacheTTL:       5 * time.Minute,
	}
}

// Detect finds ffmpeg and queries its version and audio encoders.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	path := d.configuredPath
	if path == "" {
		found, err := FindBinary("ffmpeg", BinaryEnvVar)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		path = found
	} else if !isExecutable(path) {
		return nil, fmt.Errorf("ffmpeg binary %s is not executable", path)
	}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	info.FFmpegPath = path

	if out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseAudioEncoders(string(out))
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads the first line of `ffmpeg -version`, e.g.
// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g...".
func parseVersion(output string) (*BinaryInfo, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		info := &BinaryInfo{Version: parts[2]}
		if m := versionRegex.FindStringSubmatch(parts[2]); m != nil {
			info.MajorVersion, _ = strconv.Atoi(m[1])
			info.MinorVersion, _ = strconv.Atoi(m[2])
		}
		return info, nil
	}
	return nil, fmt.Errorf("failed to parse ffmpeg version")
}

// parseAudioEncoders extracts audio encoder names from `ffmpeg -encoders`.
// Lines after the dashed separator look like " A....D libmp3lame  description".
func parseAudioEncoders(output string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || line[0] != 'A' {
			continue
		}
		if fields := strings.Fields(line[6:]); len(fields) > 0 {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}

// FindBinary searches for an executable: the envVar path, ./name, then PATH.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}
	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
