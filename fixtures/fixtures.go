package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed config/ocland_servers.txt.template
var ServerListTemplate []byte
