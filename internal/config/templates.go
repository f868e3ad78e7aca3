package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "client":
		return clientTemplate, nil
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

const hostTemplate = `name = "pipectl"
addr = ":9400"
admin_addr = ":9401"
admin_token = ""
cors_origins = ["http://localhost:3000"]

[pipe]
primary = true
async_dispatch = false
dispatch_queue_depth = 64
max_message_bytes = 8388608
read_timeout_ms = 0
write_timeout_ms = 15000
`

const clientTemplate = `addr = "127.0.0.1:9400"
connect_timeout_ms = 5000
max_connect_attempts = 5
`
