package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns the starter config for kind: "server" for the escpd
// daemon, "client" for an escp-tm connection profile.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// WriteTemplate writes the starter config for kind to path, refusing to
// clobber an existing file unless overwrite is set.
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

const serverTemplate = `listen_addr = ":12300"
admin_listen_addr = "127.0.0.1:9100"

# Leave both empty to run an open server. password_hash is a bcrypt
# hash and wins over password when both are set.
password = ""
password_hash = ""

# Replies for /ping. pong_messages_file = "pongs.txt" (one per line)
# replaces this list when set.
pong_messages = [
  "Pong!",
  "You rang?",
]

cors_origins = ["http://localhost:3000"]

sweep_interval = "5s"
message_rate = 10.0
message_burst = 20

read_timeout = "20s"
write_timeout = "15s"
heartbeat_interval = "5s"
liveness_window = "15s"
await_timeout = "15s"
send_queue_len = 64
`

const clientTemplate = `addr = "localhost:12300"
username = ""

# Embed the password or name an environment variable that holds it.
# Leave both empty for an open server.
password = ""
password_env = "ESCP_PASSWORD"

heartbeat = "5s"
dial_timeout = "5s"
dial_attempts = 5
`
