package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type ServerConfig struct {
	Token            string  `yaml:"token,omitempty"`
	OwnerID          int64   `yaml:"owner_id,omitempty"`
	AdminKey         string  `yaml:"admin_key,omitempty"`
	DatabasePath     string  `yaml:"database_path,omitempty"`
	SourceChannel    int64   `yaml:"source_channel,omitempty"` // Channel the bot ingests media from
	CaptionAsCode    bool    `yaml:"caption_as_code"`          // Attach media to a pre-declared code found in its caption
	BroadcastWorkers int     `yaml:"broadcast_workers,omitempty"`
	BroadcastRate    float64 `yaml:"broadcast_rate,omitempty"` // Messages per second across all workers
	UpdateTimeout    int     `yaml:"update_timeout,omitempty"` // Long-poll timeout in seconds
}

var Conf ServerConfig

// secrets supplied through the environment stay out of the file on save
var fromEnv struct {
	token    bool
	ownerID  bool
	adminKey bool
}

func LoadConfig(path string) {
	fromEnv.token, fromEnv.ownerID, fromEnv.adminKey = false, false, false

	f, err := os.ReadFile(path)
	if err == nil {
		yaml.Unmarshal(f, &Conf)
	}

	// Secrets from the environment override the file
	if v := os.Getenv("TOKEN"); v != "" {
		Conf.Token = v
		fromEnv.token = true
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			Conf.OwnerID = id
			fromEnv.ownerID = true
		}
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		Conf.AdminKey = v
		fromEnv.adminKey = true
	}

	if Conf.DatabasePath == "" {
		Conf.DatabasePath = "data/gatebot.db"
	}
	if Conf.AdminKey == "" {
		Conf.AdminKey = "secure_admin_key"
	}
	if Conf.BroadcastWorkers == 0 {
		Conf.BroadcastWorkers = 8
	}
	if Conf.BroadcastRate == 0 {
		Conf.BroadcastRate = 25 // Telegram caps bots around 30 msg/s
	}
	if Conf.UpdateTimeout == 0 {
		Conf.UpdateTimeout = 30
	}
}

// Validate reports whether the loaded configuration is usable. Missing
// credentials are fatal at startup: the process must not accept traffic
// without them.
func Validate() error {
	if Conf.Token == "" {
		return fmt.Errorf("bot token is not set (config token or TOKEN env)")
	}
	if Conf.OwnerID == 0 {
		return fmt.Errorf("owner id is not set (config owner_id or OWNER_ID env)")
	}
	return nil
}

// SaveConfig saves the current configuration to file. Values that came in
// through the environment are blanked first so saving never writes a secret
// the file did not already hold.
func SaveConfig(path string) error {
	out := Conf
	if fromEnv.token {
		out.Token = ""
	}
	if fromEnv.ownerID {
		out.OwnerID = 0
	}
	if fromEnv.adminKey {
		out.AdminKey = ""
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
