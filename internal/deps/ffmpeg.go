package deps

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"deeplinker/internal/config"
)

const versionTimeout = 5 * time.Second

// CheckMedia reports ffmpeg and ffprobe availability including the version
// each binary prints.
func CheckMedia(ctx context.Context, cfg *config.Config) []Status {
	statuses := CheckBinaries(MediaRequirements(cfg))
	for i := range statuses {
		if !statuses[i].Available {
			continue
		}
		version, err := ProbeVersion(ctx, statuses[i].Command)
		if err != nil {
			statuses[i].Detail = "version check failed: " + err.Error()
			continue
		}
		statuses[i].Version = version
	}
	return statuses
}

// ProbeVersion runs "<binary> -version" and returns the version token from
// the first line, for example "6.1.1" from "ffmpeg version 6.1.1 Copyright".
func ProbeVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", err
	}
	return parseVersion(out), nil
}

func parseVersion(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return ""
	}
	fields := strings.Fields(scanner.Text())
	for i, field := range fields {
		if field == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(scanner.Text())
}
