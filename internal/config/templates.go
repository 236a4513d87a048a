package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "server":
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `driver_path = "/dev/binder"
max_threads = 0
call_restriction = "none"
log_level = "info"
`

const serverTemplate = `driver_path = "/dev/binder"
max_threads = 15
max_loopers = 4
call_restriction = "none"
transcript_path = ""
metrics_addr = "127.0.0.1:9464"
log_level = "info"
`
